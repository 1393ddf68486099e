package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// docRow is one stored document. The (namespace, name) pair is the key;
// there is deliberately no version column — last write wins.
type docRow struct {
	bun.BaseModel `bun:"table:documents"`

	Namespace string          `bun:"namespace,pk"`
	Name      string          `bun:"name,pk"`
	Data      json.RawMessage `bun:"data,type:jsonb"`
	UpdatedAt time.Time       `bun:"updated_at"`
}

// PGStore keeps documents in a Postgres table, one row per JSON file. The
// namespace (folder) is a column value, created implicitly with the table:
// the first operation that finds the table missing creates it and retries
// once.
type PGStore struct {
	db        *bun.DB
	namespace string
}

func NewPGStore(db *bun.DB, namespace string) *PGStore {
	return &PGStore{db: db, namespace: namespace}
}

// ensureNamespace lazily creates the documents table.
func (s *PGStore) ensureNamespace(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*docRow)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	return nil
}

// missingNamespace reports whether err looks like "the table is not there
// yet" rather than a transport problem.
func missingNamespace(err error) bool {
	return err != nil && strings.Contains(err.Error(), "does not exist")
}

func (s *PGStore) Save(ctx context.Context, name string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal document %q: %w", name, err)
	}
	err = s.save(ctx, fileName(name), raw)
	if missingNamespace(err) {
		if err := s.ensureNamespace(ctx); err != nil {
			return err
		}
		err = s.save(ctx, fileName(name), raw)
	}
	return err
}

// save probes for the document and overwrites in place when found, else
// creates it. Two concurrent savers of the same name race; the last
// write wins, matching the rest of the store's consistency model.
func (s *PGStore) save(ctx context.Context, file string, raw json.RawMessage) error {
	var existing docRow
	err := s.db.NewSelect().
		Model(&existing).
		Column("name").
		Where("namespace = ? AND name = ?", s.namespace, file).
		Scan(ctx)

	row := docRow{
		Namespace: s.namespace,
		Name:      file,
		Data:      raw,
		UpdatedAt: time.Now().UTC(),
	}

	switch {
	case err == nil:
		_, err = s.db.NewUpdate().
			Model(&row).
			Column("data", "updated_at").
			Where("namespace = ? AND name = ?", s.namespace, file).
			Exec(ctx)
	case err == sql.ErrNoRows:
		_, err = s.db.NewInsert().Model(&row).Exec(ctx)
	}
	if err != nil {
		return fmt.Errorf("save document %q: %w", file, err)
	}
	return nil
}

func (s *PGStore) Load(ctx context.Context, name string) (json.RawMessage, error) {
	var row docRow
	err := s.db.NewSelect().
		Model(&row).
		Where("namespace = ? AND name = ?", s.namespace, fileName(name)).
		Scan(ctx)
	if err == sql.ErrNoRows || missingNamespace(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load document %q: %w", name, err)
	}
	return row.Data, nil
}

func (s *PGStore) Delete(ctx context.Context, name string) error {
	_, err := s.db.NewDelete().
		Model((*docRow)(nil)).
		Where("namespace = ? AND name = ?", s.namespace, fileName(name)).
		Exec(ctx)
	if missingNamespace(err) {
		// Nothing to delete from.
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete document %q: %w", name, err)
	}
	return nil
}

func (s *PGStore) LoadByPrefix(ctx context.Context, prefix string) ([]Document, error) {
	q := s.db.NewSelect().
		Model((*docRow)(nil)).
		Where("namespace = ?", s.namespace)

	if exact, ok := prefixMatch(prefix); ok {
		q = q.Where("name = ?", exact)
	} else if prefix != "" {
		q = q.Where("name LIKE ?", likeEscape(prefix)+"%")
	}

	var rows []docRow
	err := q.Order("name ASC").Scan(ctx, &rows)
	if missingNamespace(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load documents by prefix %q: %w", prefix, err)
	}

	out := make([]Document, 0, len(rows))
	for _, row := range rows {
		out = append(out, Document{Name: bareName(row.Name), Data: row.Data})
	}
	return out, nil
}

// likeEscape protects LIKE metacharacters in document name prefixes.
func likeEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
