package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/nextlevelbuilder/hivemind/internal/store"
)

// PGDocumentStore implements store.DocumentStore backed by Postgres.
type PGDocumentStore struct {
	db *sql.DB
}

func NewPGDocumentStore(db *sql.DB) *PGDocumentStore {
	return &PGDocumentStore{db: db}
}

const docSelectCols = `id, org_id, scope, scope_id, title, keywords, importance, content, created_at`

func (s *PGDocumentStore) Create(ctx context.Context, doc *store.DocumentData) error {
	if doc.ID == uuid.Nil {
		doc.ID = store.GenNewID()
	}
	doc.CreatedAt = time.Now()
	if doc.Importance == 0 {
		doc.Importance = 5
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, org_id, scope, scope_id, title, keywords, importance, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		doc.ID, doc.OrgID, doc.Scope, doc.ScopeID, doc.Title,
		pq.Array(doc.Keywords), doc.Importance, doc.Content, doc.CreatedAt,
	)
	return err
}

func (s *PGDocumentStore) Search(ctx context.Context, orgID uuid.UUID, scopes []store.ScopeRef, keywords []string, limit int) ([]store.DocumentData, error) {
	if limit <= 0 {
		limit = 8
	}
	if len(scopes) == 0 || len(keywords) == 0 {
		return nil, nil
	}

	// One (scope, scope_id) disjunct per hierarchy level. Organization
	// scope matches without a scope_id.
	where := ""
	args := []any{orgID, pq.Array(keywords)}
	argN := 2
	for i, ref := range scopes {
		if i > 0 {
			where += " OR "
		}
		if ref.ScopeID == nil {
			argN++
			where += fmt.Sprintf("(scope = $%d)", argN)
			args = append(args, ref.Scope)
		} else {
			where += fmt.Sprintf("(scope = $%d AND scope_id = $%d)", argN+1, argN+2)
			args = append(args, ref.Scope, *ref.ScopeID)
			argN += 2
		}
	}
	argN++
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+docSelectCols+` FROM documents
		 WHERE org_id = $1 AND keywords && $2 AND (`+where+`)
		 ORDER BY importance DESC, created_at DESC
		 LIMIT $`+fmt.Sprint(argN), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []store.DocumentData
	for rows.Next() {
		var d store.DocumentData
		if err := rows.Scan(
			&d.ID, &d.OrgID, &d.Scope, &d.ScopeID, &d.Title,
			pq.Array(&d.Keywords), &d.Importance, &d.Content, &d.CreatedAt,
		); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
