// Package extract turns composer and composition detail pages into normalized
// metadata. Composition pages carry a "general information" table whose rows
// pair header cells with data cells; composer pages carry a biographical
// header from which birth and death years are read.
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Field names a metadata attribute read from a composition's detail table.
type Field string

// Supported fields, matched against header cell text.
const (
	FieldKey             Field = "Key"
	FieldInstrumentation Field = "Instrumentation"
	FieldPieceStyle      Field = "Piece Style"
	FieldWorkTitle       Field = "Work Title"
	FieldLanguage        Field = "Language"
)

// DesiredFields lists every field Extractor looks for.
var DesiredFields = []Field{FieldKey, FieldInstrumentation, FieldPieceStyle, FieldWorkTitle, FieldLanguage}

// DefaultPlaceholders are cell values that carry no information. Matching is
// a case-insensitive substring test.
var DefaultPlaceholders = []string{"unknown", "see below", "comments", "category"}

// Defaults for the catalog's markup.
const (
	DefaultHiddenClass    = "ms555"
	DefaultHeaderSelector = ".cp_firsth"
	DefaultTableSelector  = ".wi_body table"
	DefaultCellSeparator  = ", "
	FlourishedMarker      = "fl."
)

// A year is a whole word of exactly four digits. Word characters include
// non-ASCII letters, so "é1685" holds no year.
var (
	wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)
	yearPattern = regexp.MustCompile(`^[0-9]{4}$`)
)

// Fields holds the accepted value for each field found on a page.
type Fields map[Field]string

// Value returns the field's value, or nil when it was absent or a placeholder.
func (f Fields) Value(field Field) *string {
	v, ok := f[field]
	if !ok {
		return nil
	}
	return &v
}

// Lifespan carries a composer's birth and death years when known.
type Lifespan struct {
	Birth *int
	Death *int
}

// Extractor reads metadata from parsed catalog pages.
type Extractor struct {
	HiddenClass    string
	HeaderSelector string
	TableSelector  string
	Placeholders   []string
}

// New returns an Extractor configured for the catalog's markup.
func New() *Extractor {
	return &Extractor{
		HiddenClass:    DefaultHiddenClass,
		HeaderSelector: DefaultHeaderSelector,
		TableSelector:  DefaultTableSelector,
		Placeholders:   DefaultPlaceholders,
	}
}

// Composer reads the lifespan from a composer page's biographical header.
// A page without the header yields an unknown lifespan.
func (e *Extractor) Composer(doc *goquery.Document) Lifespan {
	if doc == nil {
		return Lifespan{}
	}
	header := doc.Find(e.HeaderSelector).First()
	if header.Length() == 0 {
		return Lifespan{}
	}
	birth, death := ParseLifespan(header.Text())
	return Lifespan{Birth: birth, Death: death}
}

// ErrMalformedRow reports a row that names a wanted field in its headers but
// has no data cell at that position.
var ErrMalformedRow = errors.New("detail row missing data cell")

// Composition reads the detail tables of a composition page.
func (e *Extractor) Composition(doc *goquery.Document) (Fields, error) {
	if doc == nil {
		return Fields{}, nil
	}
	return e.Tables(doc.Find(e.TableSelector))
}

// Tables scans every row of every table in tables. For each desired field
// present among a row's header cells, the data cell at the same position is
// a candidate; candidates that are not placeholders overwrite earlier values.
// A wanted header without a matching data cell fails the whole page with
// ErrMalformedRow.
func (e *Extractor) Tables(tables *goquery.Selection) (Fields, error) {
	out := Fields{}
	for _, row := range tables.Find("tr").EachIter() {
		headers := e.headerCells(row)
		data := dataCells(row)
		for _, field := range DesiredFields {
			i := slices.Index(headers, string(field))
			if i < 0 {
				continue
			}
			if i >= len(data) {
				return nil, fmt.Errorf("%w: %q has %d cells", ErrMalformedRow, field, len(data))
			}
			if e.IsPlaceholder(data[i]) {
				continue
			}
			out[field] = data[i]
		}
	}
	return out, nil
}

func (e *Extractor) headerCells(row *goquery.Selection) []string {
	var headers []string
	row.Find("th").Each(func(_ int, th *goquery.Selection) {
		headers = append(headers, strings.TrimSpace(VisibleText(th.Get(0), e.HiddenClass)))
	})
	return headers
}

func dataCells(row *goquery.Selection) []string {
	var data []string
	row.Find("td").Each(func(_ int, td *goquery.Selection) {
		data = append(data, JoinedText(td.Get(0), DefaultCellSeparator))
	})
	return data
}

// IsPlaceholder reports whether value contains any placeholder, ignoring case.
func (e *Extractor) IsPlaceholder(value string) bool {
	lower := strings.ToLower(value)
	for _, p := range e.Placeholders {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// ParseLifespan reads birth and death years from biographical text. Text
// marked as a flourished period has no lifespan. Otherwise the first two
// standalone four-digit numbers are the birth and death years.
func ParseLifespan(text string) (birth, death *int) {
	if strings.Contains(text, FlourishedMarker) {
		return nil, nil
	}
	years := make([]*int, 0, 2)
	for _, word := range wordPattern.FindAllString(text, -1) {
		if len(years) == 2 {
			break
		}
		if !yearPattern.MatchString(word) {
			continue
		}
		year, err := strconv.Atoi(word)
		if err != nil {
			continue
		}
		years = append(years, &year)
	}
	if len(years) > 0 {
		birth = years[0]
	}
	if len(years) > 1 {
		death = years[1]
	}
	return birth, death
}
