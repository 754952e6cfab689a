package terminology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medterm/medterm/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

const conceptsTable = "terminology_concepts"

var conceptColumns = []string{
	"ontology", "code", "preferred_term", "synonyms", "category",
	"active", "parents", "detail", "generation",
}

const createConceptsSQL = `
CREATE TABLE IF NOT EXISTS terminology_concepts (
    ontology       TEXT    NOT NULL,
    code           TEXT    NOT NULL,
    preferred_term TEXT    NOT NULL,
    synonyms       TEXT[]  NOT NULL DEFAULT '{}',
    category       TEXT    NOT NULL DEFAULT '',
    active         BOOLEAN NOT NULL DEFAULT TRUE,
    parents        TEXT[]  NOT NULL DEFAULT '{}',
    detail         JSONB,
    generation     TEXT    NOT NULL,
    PRIMARY KEY (ontology, code)
);
CREATE INDEX IF NOT EXISTS idx_terminology_concepts_term
    ON terminology_concepts (ontology, lower(preferred_term));`

type conceptRepoPG struct{ pool *pgxpool.Pool }

// NewConceptRepoPG creates a repository over terminology_concepts.
func NewConceptRepoPG(pool *pgxpool.Pool) ConceptRepository { return &conceptRepoPG{pool: pool} }

func (r *conceptRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *conceptRepoPG) CreateSchema(ctx context.Context) error {
	if _, err := r.conn(ctx).Exec(ctx, createConceptsSQL); err != nil {
		return fmt.Errorf("create %s: %w", conceptsTable, err)
	}
	return nil
}

func (r *conceptRepoPG) Publish(ctx context.Context, ontology, generation string, s *Store) (int64, error) {
	rows, err := conceptRows(ontology, generation, s)
	if err != nil {
		return 0, err
	}
	var n int64
	err = db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM terminology_concepts WHERE ontology = $1`, ontology); err != nil {
			return fmt.Errorf("clear %s: %w", ontology, err)
		}
		copied, err := r.conn(ctx).CopyFrom(ctx, pgx.Identifier{conceptsTable}, conceptColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copy %s concepts: %w", ontology, err)
		}
		n = copied
		return nil
	})
	return n, err
}

func (r *conceptRepoPG) GetByCode(ctx context.Context, ontology, code string) (*Concept, error) {
	var (
		c      Concept
		detail []byte
	)
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT ontology, code, preferred_term, synonyms, category, active, parents, detail
		 FROM terminology_concepts WHERE ontology = $1 AND code = $2`, ontology, code).
		Scan(&c.Ontology, &c.Code, &c.PreferredTerm, &c.Synonyms, &c.Category, &c.Active, &c.Parents, &detail)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("concept get: %w", err)
	}
	if err := decodeDetail(detail, &c); err != nil {
		return nil, err
	}
	Normalize(&c)
	return &c, nil
}

func (r *conceptRepoPG) Search(ctx context.Context, ontology, query string, limit int) ([]ConceptSummary, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	pattern := "%" + query + "%"
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT code, preferred_term
		 FROM terminology_concepts
		 WHERE ontology = $1 AND active AND (code ILIKE $2 OR preferred_term ILIKE $2)
		 ORDER BY preferred_term LIMIT $3`, ontology, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("concept search: %w", err)
	}
	defer rows.Close()
	var results []ConceptSummary
	for rows.Next() {
		var s ConceptSummary
		if err := rows.Scan(&s.Code, &s.PreferredTerm); err != nil {
			return nil, err
		}
		results = append(results, s)
	}
	return results, rows.Err()
}

func (r *conceptRepoPG) Counts(ctx context.Context) (map[string]int64, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT ontology, count(*) FROM terminology_concepts GROUP BY ontology`)
	if err != nil {
		return nil, fmt.Errorf("concept counts: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var (
			name string
			n    int64
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, rows.Err()
}

// conceptDetail is the JSONB payload of the ontology specific attributes.
type conceptDetail struct {
	SNOMED *SNOMEDDetail `json:"snomed,omitempty"`
	ICD10  *ICD10Detail  `json:"icd10,omitempty"`
	RxNorm *RxNormDetail `json:"rxnorm,omitempty"`
	LOINC  *LOINCDetail  `json:"loinc,omitempty"`
}

// conceptRows converts a store into CopyFrom rows in store order.
func conceptRows(ontology, generation string, s *Store) ([][]interface{}, error) {
	rows := make([][]interface{}, 0, s.Len())
	var err error
	s.Each(func(c *Concept) {
		if err != nil {
			return
		}
		var detail []byte
		detail, err = encodeDetail(c)
		if err != nil {
			return
		}
		rows = append(rows, []interface{}{
			ontology, c.Code, c.PreferredTerm, nonNil(c.Synonyms), c.Category,
			c.Active, nonNil(c.Parents), detail, generation,
		})
	})
	return rows, err
}

func encodeDetail(c *Concept) ([]byte, error) {
	d := conceptDetail{SNOMED: c.SNOMED, ICD10: c.ICD10, RxNorm: c.RxNorm, LOINC: c.LOINC}
	if d == (conceptDetail{}) {
		return nil, nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode detail of %s: %w", c.Code, err)
	}
	return data, nil
}

func decodeDetail(data []byte, c *Concept) error {
	if len(data) == 0 {
		return nil
	}
	var d conceptDetail
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("decode detail of %s: %w", c.Code, err)
	}
	c.SNOMED, c.ICD10, c.RxNorm, c.LOINC = d.SNOMED, d.ICD10, d.RxNorm, d.LOINC
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
