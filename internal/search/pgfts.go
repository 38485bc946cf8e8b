package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across texts and annotations using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultText {
		textWhere := "t.fts @@ " + tsQuery + " AND t.deleted_at IS NULL"
		if q.FilterLanguage != "" {
			textWhere += fmt.Sprintf(" AND t.language = $%d", argN)
			args = append(args, q.FilterLanguage)
			argN++
		}
		if q.FilterStatus != "" {
			textWhere += fmt.Sprintf(" AND t.status = $%d", argN)
			args = append(args, q.FilterStatus)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'text'::text AS type, t.id, t.title,
				ts_headline('simple', t.content, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				t.id AS text_id, t.language, t.status,
				ts_rank(t.fts, %s) AS rank
			FROM texts t
			WHERE %s`, tsQuery, tsQuery, textWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultAnnotation {
		annWhere := "a.fts @@ " + tsQuery + " AND t.deleted_at IS NULL"
		if q.FilterLanguage != "" {
			annWhere += fmt.Sprintf(" AND t.language = $%d", argN)
			args = append(args, q.FilterLanguage)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'annotation'::text AS type, a.id, a.label AS title,
				ts_headline('simple', a.selected_text, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				a.text_id, t.language, ''::text AS status,
				ts_rank(a.fts, %s) AS rank
			FROM annotations a
			JOIN texts t ON t.id = a.text_id
			WHERE %s`, tsQuery, tsQuery, annWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, text_id, language, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.TextID, &r.Language, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]TextRecord, []AnnotationRecord, error) {
	textRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, content, language, status
		FROM texts
		WHERE deleted_at IS NULL
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load texts: %w", err)
	}
	defer textRows.Close()

	texts := make([]TextRecord, 0)
	for textRows.Next() {
		var t TextRecord
		if err := textRows.Scan(&t.ID, &t.Title, &t.Content, &t.Language, &t.Status); err != nil {
			return nil, nil, fmt.Errorf("scan text: %w", err)
		}
		texts = append(texts, t)
	}
	if err := textRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate texts: %w", err)
	}

	annRows, err := p.db.QueryContext(ctx, `
		SELECT a.id, a.selected_text, a.label, a.name, a.annotation_type, a.text_id, t.language
		FROM annotations a
		JOIN texts t ON t.id = a.text_id
		WHERE t.deleted_at IS NULL
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load annotations: %w", err)
	}
	defer annRows.Close()

	annotations := make([]AnnotationRecord, 0)
	for annRows.Next() {
		var a AnnotationRecord
		if err := annRows.Scan(&a.ID, &a.SelectedText, &a.Label, &a.Name, &a.Type, &a.TextID, &a.Language); err != nil {
			return nil, nil, fmt.Errorf("scan annotation: %w", err)
		}
		annotations = append(annotations, a)
	}
	if err := annRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate annotations: %w", err)
	}

	return texts, annotations, nil
}
