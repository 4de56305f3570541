package parser

import "strconv"

// Survey question text as printed on CTEC reports. These strings are the
// canonical keys of Result.Distributions and the natural keys under which
// the persistence layer stores questions, so they must match the documents
// exactly.
const (
	QuestionInstructionRating  = "Provide an overall rating of the instruction"
	QuestionCourseRating       = "Provide an overall rating of the course"
	QuestionLearned            = "Estimate how much you learned in the course"
	QuestionChallenged         = "Rate the effectiveness of the course in challenging you intellectually"
	QuestionInterestStimulated = "Rate the effectiveness of the instructor in stimulating your interest in the subject"
	QuestionSchool             = "What is the name of your school?"
	QuestionClassYear          = "Your Class"
	QuestionReason             = "What is your reason for taking the course? (mark all that apply)"
	QuestionPriorInterest      = "What was your Interest in this subject before taking the course?"
	QuestionTimeSpent          = "Estimate the average number of hours per week you spent on this course outside of class and lab time"
)

// LikertQuestions lists the five OCR-extracted rating questions in report
// order.
var LikertQuestions = []string{
	QuestionInstructionRating,
	QuestionCourseRating,
	QuestionLearned,
	QuestionChallenged,
	QuestionInterestStimulated,
}

// StandardQuestions lists all survey questions a report carries, in report
// order.
var StandardQuestions = []string{
	QuestionInstructionRating,
	QuestionCourseRating,
	QuestionLearned,
	QuestionChallenged,
	QuestionInterestStimulated,
	QuestionSchool,
	QuestionClassYear,
	QuestionReason,
	QuestionPriorInterest,
	QuestionTimeSpent,
}

// Demographic answer labels as printed in the DEMOGRAPHICS section.
var (
	schoolLabels = []string{
		"Education & SP",
		"Communication",
		"Graduate School",
		"KGSM",
		"McCormick",
		"Medill",
		"Music",
		"Summer",
		"SPS",
		"WCAS",
	}

	classYearLabels = []string{
		"Freshman",
		"Sophomore",
		"Junior",
		"Senior",
		"Graduate",
		"Professional",
		"Other",
	}

	reasonLabels = []string{
		"Distribution requirement",
		"Major/Minor requirement",
		"Elective requirement",
		"Non-Degree requirement",
		"No requirement",
		"Other requirement",
	}

	priorInterestLabels = []string{
		"1-Not interested at all",
		"2",
		"3",
		"4",
		"5",
		"6-Extremely interested",
	}

	timeRangeLabels = []string{
		"3 or fewer",
		"4 - 7",
		"8 - 11",
		"12 - 15",
		"16 - 19",
		"20 or more",
	}
)

// QuestionOption describes one selectable answer of a survey question, for
// seeding the persistence layer.
type QuestionOption struct {
	Label        string
	Ordinal      int
	NumericValue *int
	MinValue     *int
	MaxValue     *int
	OpenEndedMax bool
}

// SurveyQuestion pairs a question with its fixed answer options.
type SurveyQuestion struct {
	Text    string
	Options []QuestionOption
}

// SurveyQuestions returns the standard question set with options attached:
// the 1-6 numeric scale on the five rating questions and prior interest,
// the demographic label sets, and the hour buckets on the time-survey
// question. Prior interest is seeded under its bare numeric labels, the
// keys extractDemographics records counts under.
func SurveyQuestions() []SurveyQuestion {
	qs := make([]SurveyQuestion, 0, len(StandardQuestions))
	for _, text := range StandardQuestions {
		q := SurveyQuestion{Text: text}
		switch {
		case isLikert(text), text == QuestionPriorInterest:
			q.Options = likertOptions()
		case text == QuestionSchool:
			q.Options = labelOptions(schoolLabels)
		case text == QuestionClassYear:
			q.Options = labelOptions(classYearLabels)
		case text == QuestionReason:
			q.Options = labelOptions(reasonLabels)
		case text == QuestionTimeSpent:
			q.Options = timeRangeOptions()
		}
		qs = append(qs, q)
	}
	return qs
}

func isLikert(text string) bool {
	for _, q := range LikertQuestions {
		if q == text {
			return true
		}
	}
	return false
}

func likertOptions() []QuestionOption {
	opts := make([]QuestionOption, 0, 6)
	for v := 1; v <= 6; v++ {
		value := v
		opts = append(opts, QuestionOption{
			Label:        strconv.Itoa(v),
			Ordinal:      v,
			NumericValue: &value,
		})
	}
	return opts
}

func labelOptions(labels []string) []QuestionOption {
	opts := make([]QuestionOption, 0, len(labels))
	for i, label := range labels {
		opts = append(opts, QuestionOption{Label: label, Ordinal: i + 1})
	}
	return opts
}

func timeRangeOptions() []QuestionOption {
	return []QuestionOption{
		{Label: "3 or fewer", Ordinal: 1, MaxValue: intp(3)},
		{Label: "4 - 7", Ordinal: 2, MinValue: intp(4), MaxValue: intp(7)},
		{Label: "8 - 11", Ordinal: 3, MinValue: intp(8), MaxValue: intp(11)},
		{Label: "12 - 15", Ordinal: 4, MinValue: intp(12), MaxValue: intp(15)},
		{Label: "16 - 19", Ordinal: 5, MinValue: intp(16), MaxValue: intp(19)},
		{Label: "20 or more", Ordinal: 6, MinValue: intp(20), OpenEndedMax: true},
	}
}

func intp(v int) *int { return &v }
