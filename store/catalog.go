package store

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// Department is one academic department as scraped from the catalog.
type Department struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// CatalogCourse is one course record as scraped from the catalog. Catalog
// fields are authoritative: uploads create bare course rows from evaluation
// headers, and this data fills in the real title, description, and
// prerequisites afterwards.
type CatalogCourse struct {
	Code              string   `json:"code"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	PrerequisitesText string   `json:"prerequisites_text"`
	DepartmentCode    string   `json:"department_code"`
	Requirements      []string `json:"requirements"`
}

// UpsertDepartments writes departments keyed by code and returns how many
// were processed.
func (s *Store) UpsertDepartments(ctx context.Context, deps []Department) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, d := range deps {
		if _, err := tx.Exec(ctx,
			`INSERT INTO departments (id, code, name) VALUES ($1, $2, $3)
			 ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name`,
			newID(), d.Code, d.Name); err != nil {
			return 0, fmt.Errorf("store: upsert department %q: %w", d.Code, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("store: commit tx: %w", err)
	}
	return len(deps), nil
}

// UpsertCatalogCourses writes scraped catalog courses, overwriting title,
// description, and prerequisites on existing rows, and replaces each
// course's distribution-requirement links. It returns how many courses were
// processed.
func (s *Store) UpsertCatalogCourses(ctx context.Context, courses []CatalogCourse) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	deptIDs, err := departmentIDsByCode(ctx, tx)
	if err != nil {
		return 0, err
	}

	for _, c := range courses {
		var deptID *string
		if id, ok := deptIDs[c.DepartmentCode]; ok {
			deptID = &id
		}
		// COALESCE keeps an already-assigned department when the scrape
		// carries an unknown or empty department code.
		var courseID string
		err := tx.QueryRow(ctx,
			`INSERT INTO courses (id, code, title, description, prerequisites_text, department_id)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (code) DO UPDATE SET
			   title = EXCLUDED.title,
			   description = EXCLUDED.description,
			   prerequisites_text = EXCLUDED.prerequisites_text,
			   department_id = COALESCE(EXCLUDED.department_id, courses.department_id)
			 RETURNING id`,
			newID(), c.Code, c.Title, c.Description, c.PrerequisitesText, deptID).Scan(&courseID)
		if err != nil {
			return 0, fmt.Errorf("store: upsert catalog course %q: %w", c.Code, err)
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM course_requirements WHERE course_id = $1`, courseID); err != nil {
			return 0, fmt.Errorf("store: clear course requirements: %w", err)
		}
		for _, name := range c.Requirements {
			var reqID string
			err := tx.QueryRow(ctx,
				`INSERT INTO requirements (id, name) VALUES ($1, $2)
				 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
				 RETURNING id`,
				newID(), name).Scan(&reqID)
			if err != nil {
				return 0, fmt.Errorf("store: upsert requirement %q: %w", name, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO course_requirements (id, course_id, requirement_id) VALUES ($1, $2, $3)
				 ON CONFLICT (course_id, requirement_id) DO NOTHING`,
				newID(), courseID, reqID); err != nil {
				return 0, fmt.Errorf("store: link requirement: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("store: commit tx: %w", err)
	}
	return len(courses), nil
}

// AssignCourseDepartments derives a department code from the course code of
// every course that has no department yet and links the ones that match a
// known department. It returns the number of courses updated.
func (s *Store) AssignCourseDepartments(ctx context.Context) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	deptIDs, err := departmentIDsByCode(ctx, tx)
	if err != nil {
		return 0, err
	}

	rows, err := tx.Query(ctx, `SELECT id, code FROM courses WHERE department_id IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("store: load unassigned courses: %w", err)
	}
	defer rows.Close()

	type assignment struct{ courseID, deptID string }
	var pending []assignment
	for rows.Next() {
		var courseID, code string
		if err := rows.Scan(&courseID, &code); err != nil {
			return 0, fmt.Errorf("store: scan unassigned course: %w", err)
		}
		deptID, ok := deptIDs[DepartmentCodeFromCourse(code)]
		if !ok {
			continue
		}
		pending = append(pending, assignment{courseID, deptID})
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("store: iterate unassigned courses: %w", err)
	}
	rows.Close()

	for _, a := range pending {
		if _, err := tx.Exec(ctx,
			`UPDATE courses SET department_id = $1 WHERE id = $2`, a.deptID, a.courseID); err != nil {
			return 0, fmt.Errorf("store: assign department: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("store: commit tx: %w", err)
	}
	return len(pending), nil
}

func departmentIDsByCode(ctx context.Context, db dbtx) (map[string]string, error) {
	rows, err := db.Query(ctx, `SELECT code, id FROM departments`)
	if err != nil {
		return nil, fmt.Errorf("store: load departments: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]string)
	for rows.Next() {
		var code, id string
		if err := rows.Scan(&code, &id); err != nil {
			return nil, fmt.Errorf("store: scan department: %w", err)
		}
		ids[code] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate departments: %w", err)
	}
	return ids, nil
}

// DepartmentCodeFromCourse extracts the department prefix from a course
// code: the underscore-separated parts before the first part that begins
// with a digit. "COMP_SCI_150-0" yields "COMP_SCI", "ECON_201" yields
// "ECON". Course codes that start with a number yield "".
func DepartmentCodeFromCourse(code string) string {
	var parts []string
	for _, part := range strings.Split(code, "_") {
		if part != "" && unicode.IsDigit(rune(part[0])) {
			break
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "_")
}
