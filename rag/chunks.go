// Package rag builds, embeds, and retrieves the text chunks that back
// semantic search over evaluation comments and catalog descriptions.
package rag

import (
	"fmt"
	"strings"

	"github.com/calebgardner/ctecflow/store"
)

// Config controls chunk construction.
type Config struct {
	MaxChunkChars int // maximum characters per catalog description chunk
	OverlapChars  int // trailing characters carried into the next description chunk
	GroupChars    int // target size of grouped instructor comment chunks
}

// Builder converts store rows into store-ready chunks.
type Builder struct {
	cfg Config
}

// New returns a Builder with the given configuration.
// Zero-value fields are replaced with sensible defaults.
func New(cfg Config) *Builder {
	if cfg.MaxChunkChars == 0 {
		cfg.MaxChunkChars = 2000
	}
	if cfg.OverlapChars == 0 {
		cfg.OverlapChars = 200
	}
	if cfg.GroupChars == 0 {
		cfg.GroupChars = 1800
	}
	return &Builder{cfg: cfg}
}

// CommentChunks converts comments into one chunk each, keyed to the offering
// they belong to. Rows must arrive grouped by offering (the order
// CommentsWithContext returns them in); chunk indexes count per offering.
func (b *Builder) CommentChunks(rows []store.CommentRow) []store.Chunk {
	var chunks []store.Chunk
	indexes := make(map[string]int)
	for _, r := range rows {
		idx := indexes[r.OfferingID]
		indexes[r.OfferingID]++
		meta := map[string]any{
			"course_code":  r.CourseCode,
			"course_title": r.CourseTitle,
			"instructor":   r.Instructor,
			"quarter":      r.Quarter,
			"year":         r.Year,
		}
		if r.Section != "" {
			meta["section"] = r.Section
		}
		chunks = append(chunks, store.Chunk{
			EntityType: store.EntityCourseOffering,
			EntityID:   r.OfferingID,
			ChunkType:  store.ChunkComment,
			ChunkIndex: idx,
			Content:    r.Content,
			Metadata:   meta,
		})
	}
	return chunks
}

// InstructorChunks groups an instructor's comments across all their
// offerings into blocks of roughly GroupChars characters, each comment
// tagged with the course and term it came from. Single comments are too
// short to characterise an instructor on their own; grouped blocks give the
// embedding enough signal.
func (b *Builder) InstructorChunks(rows []store.CommentRow) []store.Chunk {
	byInstructor := make(map[string][]store.CommentRow)
	var order []string
	for _, r := range rows {
		if _, ok := byInstructor[r.InstructorID]; !ok {
			order = append(order, r.InstructorID)
		}
		byInstructor[r.InstructorID] = append(byInstructor[r.InstructorID], r)
	}

	var chunks []store.Chunk
	for _, instructorID := range order {
		group := byInstructor[instructorID]
		name := group[0].Instructor
		idx := 0
		var current strings.Builder

		flush := func() {
			if current.Len() == 0 {
				return
			}
			chunks = append(chunks, store.Chunk{
				EntityType: store.EntityInstructor,
				EntityID:   instructorID,
				ChunkType:  store.ChunkCommentGroup,
				ChunkIndex: idx,
				Content:    current.String(),
				Metadata:   map[string]any{"instructor": name},
			})
			idx++
			current.Reset()
		}

		for _, r := range group {
			block := fmt.Sprintf("[%s, %s %d] %s", r.CourseCode, r.Quarter, r.Year, r.Content)
			if current.Len() > 0 && current.Len()+len(block)+2 > b.cfg.GroupChars {
				flush()
			}
			if current.Len() > 0 {
				current.WriteString("\n\n")
			}
			current.WriteString(block)
		}
		flush()
	}
	return chunks
}

// CatalogChunks converts catalog text into course-keyed chunks: the
// description split at sentence boundaries into MaxChunkChars pieces with
// OverlapChars of carryover, plus a single prerequisites chunk. Each chunk
// leads with the course code and title so it retrieves well in isolation.
func (b *Builder) CatalogChunks(rows []store.CourseContentRow) []store.Chunk {
	var chunks []store.Chunk
	for _, r := range rows {
		header := strings.TrimSpace(r.Code + " " + r.Title)
		meta := map[string]any{
			"course_code":  r.Code,
			"course_title": r.Title,
		}
		if r.Department != "" {
			meta["department"] = r.Department
		}

		if r.Description != "" {
			for i, frag := range splitText(r.Description, b.cfg.MaxChunkChars, b.cfg.OverlapChars) {
				chunks = append(chunks, store.Chunk{
					EntityType: store.EntityCourse,
					EntityID:   r.CourseID,
					ChunkType:  store.ChunkCatalogDescription,
					ChunkIndex: i,
					Content:    header + "\n\n" + frag,
					Metadata:   meta,
				})
			}
		}
		if r.PrerequisitesText != "" {
			chunks = append(chunks, store.Chunk{
				EntityType: store.EntityCourse,
				EntityID:   r.CourseID,
				ChunkType:  store.ChunkCatalogPrereqs,
				Content:    header + "\n\nPrerequisites: " + r.PrerequisitesText,
				Metadata:   meta,
			})
		}
	}
	return chunks
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// splitText breaks text into fragments of at most maxChars, splitting at
// sentence boundaries. Consecutive fragments share the trailing overlapChars
// of the previous fragment. A single sentence longer than maxChars becomes
// its own oversized fragment rather than being cut mid-word.
func splitText(text string, maxChars, overlapChars int) []string {
	text = strings.TrimSpace(text)
	if len(text) <= maxChars {
		return []string{text}
	}

	var fragments []string
	var current strings.Builder
	for _, sent := range splitSentences(text) {
		if current.Len() > 0 && current.Len()+len(sent)+1 > maxChars {
			frag := strings.TrimSpace(current.String())
			fragments = append(fragments, frag)
			current.Reset()
			if overlap := tailChars(frag, overlapChars); overlap != "" {
				current.WriteString(overlap)
			}
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sent)
	}
	if current.Len() > 0 {
		fragments = append(fragments, strings.TrimSpace(current.String()))
	}
	return fragments
}

// splitSentences is a simple sentence tokeniser. It splits on
// period/question-mark/exclamation followed by whitespace or end of string.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		cur.WriteRune(runes[i])
		if runes[i] == '.' || runes[i] == '?' || runes[i] == '!' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				s := strings.TrimSpace(cur.String())
				if s != "" {
					sentences = append(sentences, s)
				}
				cur.Reset()
			}
		}
	}
	if cur.Len() > 0 {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// tailChars returns the trailing n characters of text, trimmed forward to
// the next word boundary so the overlap never starts mid-word.
func tailChars(text string, n int) string {
	if n <= 0 || text == "" {
		return ""
	}
	if len(text) <= n {
		return text
	}
	tail := text[len(text)-n:]
	if idx := strings.IndexByte(tail, ' '); idx >= 0 {
		tail = tail[idx+1:]
	}
	return tail
}
