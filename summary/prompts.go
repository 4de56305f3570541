package summary

import (
	"fmt"

	"github.com/calebgardner/ctecflow/store"
)

// System prompts set the voice; the user prompts below carry the task and
// the evidence-only guardrails. Keyed by entity type, with the course
// offering prompt as the fallback.
var systemPrompts = map[string]string{
	store.EntityCourseOffering: "You are a thoughtful Northwestern student summarizing CTEC feedback for a specific course offering. " +
		"Write in a student-to-student voice that is clear and practical, but keep an academic, structured tone. " +
		"Be neutral, avoid hype, and only state what is supported by the comments.",
	store.EntityInstructor: "You are a thoughtful Northwestern student summarizing CTEC feedback about an instructor across multiple offerings. " +
		"Write in a student-to-student voice that is clear and practical, but keep an academic, structured tone. " +
		"Focus on recurring patterns across offerings, and only state what is supported by the comments.",
	store.EntityCourse: "You are a thoughtful Northwestern student summarizing CTEC feedback about a course across multiple offerings and instructors. " +
		"Write in a student-to-student voice that is clear and practical, but keep an academic, structured tone. " +
		"Highlight consistent themes and note meaningful variation across instructors/terms, only using supported information.",
}

const offeringPrompt = `You are analyzing student feedback for a specific course offering to produce a concise, factual summary.

Task:
Write a 4-5 sentence summary (maximum 800 characters) based solely on the student comments provided.

Your summary should address, when supported by the comments:
1. Overall student sentiment and satisfaction
2. Course structure and grading (e.g., major assignments, exams, homework frequency, and approximate weights if mentioned)
3. Instructor characteristics (e.g., teaching style, clarity, availability, approachability)
4. Common challenges, criticisms, or areas for improvement
5. Recurring themes or patterns across multiple comments

Guidelines:
- Do NOT include information not explicitly supported by the comments
- If grading details are incomplete or inconsistent, describe them at a high level
- Combine points into a single sentence when appropriate to stay concise
- Maintain a neutral, analytical tone
- Avoid exaggeration or speculation
- If there are too few comments to draw conclusions, state this clearly

Student Comments:
%s

Summary:`

const instructorPrompt = `You are analyzing student feedback for an instructor across multiple course offerings to create a concise teaching profile.

Task:
Write a 4-5 sentence summary (maximum 800 characters) describing this instructor's teaching effectiveness, based solely on the student comments provided.

Your summary should address, when supported by the comments:
1. Overall teaching effectiveness and student satisfaction patterns
2. Grading strictness or leniency (e.g., easy, fair, or difficult grading), if mentioned
3. Key strengths that appear consistently across multiple course offerings
4. Common weaknesses or areas for improvement raised by students
5. Notable teaching style characteristics (e.g., clarity, organization, engagement, availability)

Guidelines:
- Focus on patterns that recur across multiple course offerings, not isolated remarks
- Be objective, neutral, and evidence-based
- Do NOT assume or infer information not explicitly supported by comments
- If grading practices or other aspects are inconsistently mentioned, describe them at a high level
- If there is insufficient data to draw conclusions, state this clearly
- Use clear, direct language

Student Comments by Course Offering:
%s

Summary:`

const coursePrompt = `You are analyzing summaries from multiple course offerings to produce an overall course-level profile.

Task:
Write a concise 4-5 sentence summary (maximum 800 characters) of this course, based solely on summaries from different offerings taught by various instructors across multiple terms.

Your summary should address, when supported by the offering summaries:
1. Overall course quality and student satisfaction patterns
2. Core topics and skills students report learning in the course (at a high level)
3. Typical course structure and grading components (e.g., assignments, exams, projects), noting instructor-dependent variation when relevant
4. Consistent strengths of the course across offerings
5. Recurring criticisms or areas for improvement

Guidelines:
- Focus on patterns that recur across multiple offerings, not isolated experiences
- Be objective, neutral, and evidence-based
- Do NOT introduce information not present in the provided summaries
- If structure or grading varies significantly by instructor or term, describe this variation explicitly
- If the summaries are too inconsistent or sparse to draw conclusions, state this clearly
- Maintain a concise, analytical tone
- Keep the total length under 800 characters

Course Offering Summaries:
%s

Summary:`

// BuildPrompt returns the system and user prompts for one entity type with
// the assembled content already in place. Unknown entity types fall back to
// the course offering prompts.
func BuildPrompt(entityType, content string) (system, user string) {
	system, ok := systemPrompts[entityType]
	if !ok {
		system = systemPrompts[store.EntityCourseOffering]
	}
	switch entityType {
	case store.EntityInstructor:
		user = fmt.Sprintf(instructorPrompt, content)
	case store.EntityCourse:
		user = fmt.Sprintf(coursePrompt, content)
	default:
		user = fmt.Sprintf(offeringPrompt, content)
	}
	return system, user
}
