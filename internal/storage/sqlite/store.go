// Package sqlite implements store.Store on SQLite through GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/JakeFAU/harmony-crawler/internal/logging"
	"github.com/JakeFAU/harmony-crawler/internal/store"
)

type composerRow struct {
	ID        int64 `gorm:"primaryKey"`
	FullName  string
	BirthYear *int
	DeathYear *int
	Processed bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (composerRow) TableName() string { return "composers" }

type dimensionRow struct {
	ID        int64 `gorm:"primaryKey"`
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type compositionRow struct {
	ID                int64 `gorm:"primaryKey"`
	FullName          string
	WorkTitle         string
	ComposerID        int64
	KeyID             *int64
	InstrumentationID *int64
	PieceStyleID      *int64
	LanguageID        *int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (compositionRow) TableName() string { return "compositions" }

// Store persists crawl results in a SQLite database file.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path. Use ":memory:" for a
// throwaway database. The pool is limited to a single connection because the
// crawl is a single writer.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
	}
	db, err := gorm.Open(sqlite.Open(path+"?_foreign_keys=on"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return &Store{db: db, logger: logging.OrNop(logger).Named("sqlite")}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("sqlite handle: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Migrate creates any missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ddl := range createTablesSQL {
			if err := tx.Exec(ddl).Error; err != nil {
				return fmt.Errorf("create table: %w", err)
			}
		}
		return nil
	})
}

// UpsertComposer inserts the composer unless the name already exists.
func (s *Store) UpsertComposer(ctx context.Context, c store.Composer) error {
	row := composerRow{FullName: c.FullName, BirthYear: c.BirthYear, DeathYear: c.DeathYear}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "full_name"}},
		DoNothing: true,
	}).Create(&row).Error
	if err != nil {
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
	db := s.db.WithContext(ctx)
	row := dimensionRow{Name: *name}
	err = db.Table(table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("insert %s %q: %w", table, *name, err)
	}
	var existing dimensionRow
	if err := db.Table(table).Where("name = ?", *name).First(&existing).Error; err != nil {
		return nil, fmt.Errorf("lookup %s %q: %w", table, *name, err)
	}
	return &existing.ID, nil
}

// InsertComposition resolves the composer by name and inserts the
// composition. It reports false when the composer is missing or the
// composition already exists.
func (s *Store) InsertComposition(ctx context.Context, c store.Composition) (bool, error) {
	db := s.db.WithContext(ctx)
	composerID, err := s.composerID(db, c.ComposerName)
	if errors.Is(err, store.ErrComposerNotFound) {
		s.logger.Debug("composition dropped; composer unresolved",
			zap.String("composition", c.FullName), zap.String("composer", c.ComposerName))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	row := compositionRow{
		FullName:          c.FullName,
		WorkTitle:         c.WorkTitle,
		ComposerID:        composerID,
		KeyID:             c.KeyID,
		InstrumentationID: c.InstrumentationID,
		PieceStyleID:      c.StyleID,
		LanguageID:        c.LanguageID,
	}
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "full_name"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("insert composition %q: %w", c.FullName, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) composerID(db *gorm.DB, fullName string) (int64, error) {
	var row composerRow
	err := db.Select("id").Where("full_name = ?", fullName).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, store.ErrComposerNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lookup composer %q: %w", fullName, err)
	}
	return row.ID, nil
}

// MarkComposerProcessed sets the processed flag. Unknown names are ignored.
func (s *Store) MarkComposerProcessed(ctx context.Context, fullName string) error {
	err := s.db.WithContext(ctx).Model(&composerRow{}).
		Where("full_name = ?", fullName).
		Updates(map[string]any{"processed": true, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return fmt.Errorf("mark composer %q processed: %w", fullName, err)
	}
	return nil
}

// IsComposerSaved reports whether a composer row exists.
func (s *Store) IsComposerSaved(ctx context.Context, fullName string) (bool, error) {
	return s.exists(ctx, &composerRow{}, fullName)
}

// IsCompositionSaved reports whether a composition row exists.
func (s *Store) IsCompositionSaved(ctx context.Context, fullName string) (bool, error) {
	return s.exists(ctx, &compositionRow{}, fullName)
}

func (s *Store) exists(ctx context.Context, model any, fullName string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(model).Where("full_name = ?", fullName).Count(&n).Error; err != nil {
		return false, fmt.Errorf("lookup %q: %w", fullName, err)
	}
	return n > 0, nil
}

// IsComposerProcessed reports whether the composer exists and is flagged processed.
func (s *Store) IsComposerProcessed(ctx context.Context, fullName string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&composerRow{}).
		Where("full_name = ? AND processed = ?", fullName, true).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("lookup composer %q: %w", fullName, err)
	}
	return n > 0, nil
}

// ListCompositions returns the joined composition rows.
func (s *Store) ListCompositions(ctx context.Context) ([]store.CompositionRow, error) {
	rows, err := s.db.WithContext(ctx).Raw(store.CompositionRowsSQL).Rows()
	if err != nil {
		return nil, fmt.Errorf("list compositions: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor
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
	var names []string
	if err := s.db.WithContext(ctx).Raw(store.ComposerNamesSQL).Scan(&names).Error; err != nil {
		return nil, fmt.Errorf("list composers: %w", err)
	}
	return names, nil
}

// TableCounts reports the row count of every table.
func (s *Store) TableCounts(ctx context.Context) ([]store.TableCount, error) {
	counts := make([]store.TableCount, 0, len(store.Tables))
	for _, table := range store.Tables {
		var n int64
		if err := s.db.WithContext(ctx).Table(table).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts = append(counts, store.TableCount{Table: table, Rows: n})
	}
	return counts, nil
}
