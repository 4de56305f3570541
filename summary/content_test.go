package summary

import (
	"strings"
	"testing"

	"github.com/calebgardner/ctecflow/store"
)

func TestInstructorBlocks(t *testing.T) {
	comments := []store.InstructorComment{
		{Content: "Lectures were engaging.", CourseCode: "CS_101", CourseTitle: "Intro to Programming", Quarter: "Fall", Year: 2022},
		{Content: "Homework took forever.", CourseCode: "CS_101", CourseTitle: "Intro to Programming", Quarter: "Fall", Year: 2022},
		{Content: "Best theory class I took.", CourseCode: "CS_212", CourseTitle: "Discrete Math", Quarter: "Winter", Year: 2023},
	}

	blocks := InstructorBlocks(comments)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d: %v", len(blocks), blocks)
	}

	if !strings.HasPrefix(blocks[0], "=== CS_101 - Intro to Programming (Fall 2022) ===\n\n") {
		t.Errorf("unexpected first header: %q", blocks[0])
	}
	if !strings.Contains(blocks[0], "Lectures were engaging.\n\nHomework took forever.") {
		t.Errorf("expected first offering's comments joined, got %q", blocks[0])
	}
	if !strings.HasPrefix(blocks[1], "=== CS_212 - Discrete Math (Winter 2023) ===") {
		t.Errorf("unexpected second header: %q", blocks[1])
	}
}

func TestInstructorBlocksEmpty(t *testing.T) {
	if blocks := InstructorBlocks(nil); len(blocks) != 0 {
		t.Errorf("expected no blocks, got %v", blocks)
	}
}

func TestInstructorBlocksSplitsLongOfferings(t *testing.T) {
	long := strings.Repeat("The course was great. ", 60) // 1320 chars
	comments := []store.InstructorComment{
		{Content: long, CourseCode: "ECON_310", CourseTitle: "Microeconomics", Quarter: "Spring", Year: 2023},
		{Content: long, CourseCode: "ECON_310", CourseTitle: "Microeconomics", Quarter: "Spring", Year: 2023},
	}

	blocks := InstructorBlocks(comments)
	if len(blocks) < 2 {
		t.Fatalf("expected the offering split into parts, got %d block(s)", len(blocks))
	}
	if !strings.Contains(blocks[0], "(Part 1/") {
		t.Errorf("expected part numbering in first header, got %q", blocks[0][:80])
	}
	for i, b := range blocks {
		if !strings.HasPrefix(b, "=== ECON_310 - Microeconomics (Spring 2023) (Part ") {
			t.Errorf("block %d missing part header: %q", i, b[:60])
		}
	}
}

func TestCourseBlocks(t *testing.T) {
	sums := []store.OfferingSummary{
		{Quarter: "Fall", Year: 2022, Instructor: "Ada Lovelace", Summary: "Well paced and rigorous."},
		{Quarter: "Spring", Year: 2023, Instructor: "Alan Turing", Summary: "Heavier on proofs."},
	}

	blocks := CourseBlocks(sums)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0] != "Fall 2022, Ada Lovelace:\nWell paced and rigorous." {
		t.Errorf("unexpected block: %q", blocks[0])
	}
	if blocks[1] != "Spring 2023, Alan Turing:\nHeavier on proofs." {
		t.Errorf("unexpected block: %q", blocks[1])
	}
}

func TestSplitGroup(t *testing.T) {
	t.Run("short text stays whole", func(t *testing.T) {
		pieces := splitGroup("fits in one piece", 100, 20)
		if len(pieces) != 1 || pieces[0] != "fits in one piece" {
			t.Errorf("expected single piece, got %v", pieces)
		}
	})

	t.Run("long text splits at sentence boundaries", func(t *testing.T) {
		text := strings.Repeat("This is a sentence. ", 30) // 600 chars
		pieces := splitGroup(text, 250, 50)

		if len(pieces) < 2 {
			t.Fatalf("expected multiple pieces, got %d", len(pieces))
		}
		for i, p := range pieces {
			if len(p) > 250 {
				t.Errorf("piece %d exceeds max: %d chars", i, len(p))
			}
		}
		if !strings.HasSuffix(pieces[0], ". ") {
			t.Errorf("expected first cut at a sentence boundary, got tail %q", pieces[0][len(pieces[0])-10:])
		}
		last := pieces[len(pieces)-1]
		if !strings.HasSuffix(text, last) {
			t.Error("expected last piece to carry the end of the text")
		}
	})

	t.Run("consecutive pieces overlap", func(t *testing.T) {
		text := strings.Repeat("Word salad continues here. ", 40) // 1080 chars
		pieces := splitGroup(text, 400, 100)

		if len(pieces) < 2 {
			t.Fatalf("expected multiple pieces, got %d", len(pieces))
		}
		tail := pieces[0][len(pieces[0])-50:]
		if !strings.Contains(pieces[1], tail[:20]) {
			t.Error("expected second piece to overlap the first")
		}
	})
}
