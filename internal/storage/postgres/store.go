// Package postgres implements store.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/harmony-crawler/internal/logging"
	"github.com/JakeFAU/harmony-crawler/internal/store"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists crawl results in PostgreSQL.
type Store struct {
	pool   pool
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(p, logger)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, logger *zap.Logger) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p, logger: logging.OrNop(logger).Named("postgres")}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Migrate creates any missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	for _, ddl := range createTablesSQL {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// UpsertComposer inserts the composer unless the name already exists.
func (s *Store) UpsertComposer(ctx context.Context, c store.Composer) error {
	const query = `
		INSERT INTO composers (full_name, birth_year, death_year)
		VALUES ($1, $2, $3)
		ON CONFLICT (full_name) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, c.FullName, c.BirthYear, c.DeathYear); err != nil {
		return fmt.Errorf("upsert composer %q: %w", c.FullName, err)
	}
	return nil
}

// UpsertDimension inserts name when absent and returns its id.
func (s *Store) UpsertDimension(ctx context.Context, d store.Dimension, name *string) (*int64, error) {
	if name == nil {
		return nil, nil
	}
	table, err := d.Table()
	if err != nil {
		return nil, err
	}
	insert := fmt.Sprintf(`INSERT INTO %s (name) VALUES ($1) ON CONFLICT (name) DO NOTHING;`, table)
	if _, err := s.pool.Exec(ctx, insert, *name); err != nil {
		return nil, fmt.Errorf("insert %s %q: %w", table, *name, err)
	}
	var id int64
	lookup := fmt.Sprintf(`SELECT id FROM %s WHERE name = $1;`, table)
	if err := s.pool.QueryRow(ctx, lookup, *name).Scan(&id); err != nil {
		return nil, fmt.Errorf("lookup %s %q: %w", table, *name, err)
	}
	return &id, nil
}

// InsertComposition inserts the composition in one statement that resolves
// the composer by name. It reports false when nothing was written, either
// because the composer is missing or the name already exists.
func (s *Store) InsertComposition(ctx context.Context, c store.Composition) (bool, error) {
	const query = `
		INSERT INTO compositions
			(full_name, work_title, composer_id, key_id, instrumentation_id, piece_style_id, language_id)
		SELECT $1, $2, composers.id, $4, $5, $6, $7
		FROM composers WHERE composers.full_name = $3
		ON CONFLICT (full_name) DO NOTHING;
	`
	tag, err := s.pool.Exec(ctx, query,
		c.FullName, c.WorkTitle, c.ComposerName,
		c.KeyID, c.InstrumentationID, c.StyleID, c.LanguageID,
	)
	if err != nil {
		return false, fmt.Errorf("insert composition %q: %w", c.FullName, err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debug("composition not inserted",
			zap.String("composition", c.FullName), zap.String("composer", c.ComposerName))
		return false, nil
	}
	return true, nil
}

// MarkComposerProcessed sets the processed flag. Unknown names are ignored.
func (s *Store) MarkComposerProcessed(ctx context.Context, fullName string) error {
	const query = `UPDATE composers SET processed = TRUE, updated_at = now() WHERE full_name = $1;`
	if _, err := s.pool.Exec(ctx, query, fullName); err != nil {
		return fmt.Errorf("mark composer %q processed: %w", fullName, err)
	}
	return nil
}

// IsComposerSaved reports whether a composer row exists.
func (s *Store) IsComposerSaved(ctx context.Context, fullName string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM composers WHERE full_name = $1);`, fullName)
}

// IsCompositionSaved reports whether a composition row exists.
func (s *Store) IsCompositionSaved(ctx context.Context, fullName string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM compositions WHERE full_name = $1);`, fullName)
}

func (s *Store) exists(ctx context.Context, query, fullName string) (bool, error) {
	var ok bool
	if err := s.pool.QueryRow(ctx, query, fullName).Scan(&ok); err != nil {
		return false, fmt.Errorf("lookup %q: %w", fullName, err)
	}
	return ok, nil
}

// IsComposerProcessed reports whether the composer exists and is flagged processed.
func (s *Store) IsComposerProcessed(ctx context.Context, fullName string) (bool, error) {
	var processed bool
	err := s.pool.QueryRow(ctx, `SELECT processed FROM composers WHERE full_name = $1;`, fullName).Scan(&processed)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup composer %q: %w", fullName, err)
	}
	return processed, nil
}

// ListCompositions returns the joined composition rows.
func (s *Store) ListCompositions(ctx context.Context) ([]store.CompositionRow, error) {
	rows, err := s.pool.Query(ctx, store.CompositionRowsSQL)
	if err != nil {
		return nil, fmt.Errorf("list compositions: %w", err)
	}
	defer rows.Close()
	var out []store.CompositionRow
	for rows.Next() {
		var r store.CompositionRow
		if err := rows.Scan(&r.FullName, &r.WorkTitle, &r.Composer, &r.Key,
			&r.Instrumentation, &r.Style, &r.Language); err != nil {
			return nil, fmt.Errorf("scan composition: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate compositions: %w", err)
	}
	return out, nil
}

// ListComposerNames returns every composer name.
func (s *Store) ListComposerNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, store.ComposerNamesSQL)
	if err != nil {
		return nil, fmt.Errorf("list composers: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan composer: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate composers: %w", err)
	}
	return names, nil
}

// TableCounts reports the row count of every table.
func (s *Store) TableCounts(ctx context.Context) ([]store.TableCount, error) {
	counts := make([]store.TableCount, 0, len(store.Tables))
	for _, table := range store.Tables {
		var n int64
		if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s;`, table)).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts = append(counts, store.TableCount{Table: table, Rows: n})
	}
	return counts, nil
}
