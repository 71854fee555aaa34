package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"profilescrape-engine/internal/domain"
)

// ErrConflict reports that a candidate with the same linkedin_url exists.
var ErrConflict = errors.New("candidate already exists")

var textColumns = []string{
	"candidate_name", "current_title", "current_company",
	"location_compatibility", "candidate_description", "about", "source",
}

var listColumns = []string{"education", "experience", "skills"}

// InsertCandidate stores one record payload. Only the known record keys are
// read; anything else in payload is ignored.
func InsertCandidate(ctx context.Context, db *sql.DB, payload map[string]any) (int64, error) {
	cols := make([]string, 0, 12)
	args := make([]any, 0, 12)

	for _, c := range textColumns {
		cols = append(cols, c)
		args = append(args, textField(payload, c))
	}
	for _, c := range listColumns {
		s, err := listField(payload, c)
		if err != nil {
			return 0, fmt.Errorf("encode %s: %w", c, err)
		}
		cols = append(cols, c)
		args = append(args, s)
	}

	var url any
	if u := strings.TrimSpace(textField(payload, "linkedin_url")); u != "" {
		url = u
	}
	cols = append(cols, "linkedin_url", "created_at")
	args = append(args, url, time.Now().UTC().Format(time.RFC3339Nano))

	q := fmt.Sprintf(`INSERT INTO candidates (%s) VALUES (?%s);`,
		strings.Join(cols, ", "), strings.Repeat(", ?", len(cols)-1))

	res, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("insert candidate: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// ListCandidates returns the newest candidates first.
func ListCandidates(ctx context.Context, db *sql.DB, limit int) ([]domain.Candidate, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := db.QueryContext(ctx, `
SELECT id, candidate_name, current_title, current_company, COALESCE(linkedin_url, ''),
       location_compatibility, candidate_description, education, experience, skills,
       about, source, created_at
FROM candidates
ORDER BY id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Candidate{}
	for rows.Next() {
		var c domain.Candidate
		var edu, exp, skills, stamp string
		r := &c.Record
		if err := rows.Scan(
			&c.ID,
			&r.CandidateName,
			&r.CurrentTitle,
			&r.CurrentCompany,
			&r.LinkedInURL,
			&r.LocationCompatibility,
			&r.CandidateDescription,
			&edu,
			&exp,
			&skills,
			&r.About,
			&r.Source,
			&stamp,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(edu), &r.Education); err != nil {
			return nil, fmt.Errorf("candidate %d education: %w", c.ID, err)
		}
		if err := json.Unmarshal([]byte(exp), &r.Experience); err != nil {
			return nil, fmt.Errorf("candidate %d experience: %w", c.ID, err)
		}
		if err := json.Unmarshal([]byte(skills), &r.Skills); err != nil {
			return nil, fmt.Errorf("candidate %d skills: %w", c.ID, err)
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, stamp)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func textField(payload map[string]any, key string) string {
	switch v := payload[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func listField(payload map[string]any, key string) (string, error) {
	v, ok := payload[key]
	if !ok || v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return "[]", nil
	}
	return string(b), nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
}
