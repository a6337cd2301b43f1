package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrComposerNotFound signals that a composition's composer has no row.
var ErrComposerNotFound = errors.New("composer not found")

// Dimension names one of the deduplicated lookup tables.
type Dimension string

// Supported dimension tables.
const (
	DimensionKeys             Dimension = "keys"
	DimensionInstrumentations Dimension = "instrumentations"
	DimensionStyles           Dimension = "styles"
	DimensionLanguages        Dimension = "languages"
)

// Dimensions lists every dimension table.
var Dimensions = []Dimension{DimensionKeys, DimensionInstrumentations, DimensionStyles, DimensionLanguages}

// Valid reports whether d names a known dimension table.
func (d Dimension) Valid() bool {
	switch d {
	case DimensionKeys, DimensionInstrumentations, DimensionStyles, DimensionLanguages:
		return true
	}
	return false
}

// Table returns the table name for d or an error for unknown dimensions.
func (d Dimension) Table() (string, error) {
	if !d.Valid() {
		return "", fmt.Errorf("unknown dimension %q", string(d))
	}
	return string(d), nil
}

// Composer is a catalog composer keyed by full name.
type Composer struct {
	FullName  string
	BirthYear *int
	DeathYear *int
}

// Composition is a catalog work keyed by full name. The composer is resolved
// by name at insert time; dimension ids are nil when the value was absent.
type Composition struct {
	FullName          string
	WorkTitle         string
	ComposerName      string
	KeyID             *int64
	InstrumentationID *int64
	StyleID           *int64
	LanguageID        *int64
}

// CompositionRow is the denormalized read model used by reports. Missing
// references surface as empty strings.
type CompositionRow struct {
	FullName        string `json:"full_name"`
	WorkTitle       string `json:"work_title"`
	Composer        string `json:"composer"`
	Key             string `json:"key"`
	Instrumentation string `json:"instrumentation"`
	Style           string `json:"style"`
	Language        string `json:"language"`
}

// TableCount reports the number of rows in one table.
type TableCount struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

// Tables lists every table in report order.
var Tables = []string{"composers", "compositions", "keys", "instrumentations", "styles", "languages"}

// Writer persists crawl results. Every method is a single atomic statement or
// an insert-then-lookup pair that is safe to repeat.
type Writer interface {
	// Migrate creates any missing tables.
	Migrate(ctx context.Context) error
	// UpsertComposer inserts the composer when its name is new. Existing rows keep their years.
	UpsertComposer(ctx context.Context, c Composer) error
	// UpsertDimension returns the id for name in the dimension table, creating
	// the row when absent. A nil name yields a nil id.
	UpsertDimension(ctx context.Context, d Dimension, name *string) (*int64, error)
	// InsertComposition inserts the composition unless its name already exists.
	// It reports false without error when the composer cannot be resolved.
	InsertComposition(ctx context.Context, c Composition) (bool, error)
	// MarkComposerProcessed sets the processed flag and refreshes updated_at.
	MarkComposerProcessed(ctx context.Context, fullName string) error
}

// Checker answers the existence questions used to skip finished work.
type Checker interface {
	IsComposerSaved(ctx context.Context, fullName string) (bool, error)
	IsComposerProcessed(ctx context.Context, fullName string) (bool, error)
	IsCompositionSaved(ctx context.Context, fullName string) (bool, error)
}

// Reader serves the read-only report queries.
type Reader interface {
	// ListCompositions returns every composition joined with its composer and dimensions.
	ListCompositions(ctx context.Context) ([]CompositionRow, error)
	// ListComposerNames returns every composer full name ordered by name.
	ListComposerNames(ctx context.Context) ([]string, error)
	// TableCounts reports row counts for every table in Tables order.
	TableCounts(ctx context.Context) ([]TableCount, error)
}

// Store is the full persistence surface.
type Store interface {
	Writer
	Checker
	Reader
	Close() error
}
