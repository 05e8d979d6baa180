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

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across projects, documents, and assistant
// messages using plainto_tsquery and ts_rank, with ts_headline for snippets.
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

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Projects sub-query
	if q.FilterType == "" || q.FilterType == ResultProject {
		projWhere := "p.fts @@ " + tsQuery
		if q.FilterOrgID != "" {
			projWhere += fmt.Sprintf(" AND p.org_id = $%d", argN)
			args = append(args, q.FilterOrgID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'project'::text AS type, p.id, p.name AS title,
				ts_headline('english', coalesce(p.jurisdiction, '') || ' ' || coalesce(p.facility_type, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.id AS project_id, p.org_id,
				ts_rank(p.fts, %s) AS rank
			FROM projects p
			WHERE %s`, tsQuery, tsQuery, projWhere))
	}

	// Documents sub-query
	if q.FilterType == "" || q.FilterType == ResultDocument {
		docWhere := "d.fts @@ " + tsQuery
		if q.FilterOrgID != "" {
			docWhere += fmt.Sprintf(" AND p.org_id = $%d", argN)
			args = append(args, q.FilterOrgID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, d.id, d.name AS title,
				d.status AS snippet,
				d.project_id, p.org_id,
				ts_rank(d.fts, %s) AS rank
			FROM documents d
			JOIN projects p ON p.id = d.project_id
			WHERE %s`, tsQuery, docWhere))
	}

	// Assistant answer sub-query
	if q.FilterType == "" || q.FilterType == ResultAnswer {
		ansWhere := "m.fts @@ " + tsQuery + " AND m.role = 'ASSISTANT'"
		if q.FilterOrgID != "" {
			ansWhere += fmt.Sprintf(" AND p.org_id = $%d", argN)
			args = append(args, q.FilterOrgID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'answer'::text AS type, m.id::text, s.id AS title,
				ts_headline('english', coalesce(m.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				coalesce(s.project_id, '') AS project_id, coalesce(p.org_id, '') AS org_id,
				ts_rank(m.fts, %s) AS rank
			FROM chat_messages m
			JOIN chat_sessions s ON s.id = m.session_id
			LEFT JOIN projects p ON p.id = s.project_id
			WHERE %s`, tsQuery, tsQuery, ansWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	// Count query
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	// Data query
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, project_id, org_id
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
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID, &r.OrgID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ProjectRecord, []DocumentRecord, []AnswerRecord, error) {
	projRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, jurisdiction, facility_type, stage, org_id
		FROM projects
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load projects: %w", err)
	}
	defer projRows.Close()

	projects := make([]ProjectRecord, 0)
	for projRows.Next() {
		var r ProjectRecord
		if err := projRows.Scan(&r.ID, &r.Name, &r.Jurisdiction, &r.FacilityType, &r.Stage, &r.OrgID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, r)
	}
	if err := projRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate projects: %w", err)
	}

	docRows, err := p.db.QueryContext(ctx, `
		SELECT d.id, d.name, d.type, d.status, d.project_id, p.org_id
		FROM documents d
		JOIN projects p ON p.id = d.project_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	documents := make([]DocumentRecord, 0)
	for docRows.Next() {
		var r DocumentRecord
		if err := docRows.Scan(&r.ID, &r.Name, &r.Type, &r.Status, &r.ProjectID, &r.OrgID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, r)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate documents: %w", err)
	}

	ansRows, err := p.db.QueryContext(ctx, `
		SELECT m.id::text, m.content, m.session_id, coalesce(s.project_id, ''), coalesce(p.org_id, '')
		FROM chat_messages m
		JOIN chat_sessions s ON s.id = m.session_id
		LEFT JOIN projects p ON p.id = s.project_id
		WHERE m.role = 'ASSISTANT'
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load answers: %w", err)
	}
	defer ansRows.Close()

	answers := make([]AnswerRecord, 0)
	for ansRows.Next() {
		var r AnswerRecord
		if err := ansRows.Scan(&r.ID, &r.Content, &r.SessionID, &r.ProjectID, &r.OrgID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan answer: %w", err)
		}
		answers = append(answers, r)
	}
	if err := ansRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate answers: %w", err)
	}

	return projects, documents, answers, nil
}
