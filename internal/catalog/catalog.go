// Package catalog extracts the letter-grouped name indices that catalog
// listing pages embed as inline script data.
//
// Listing pages carry their index as a JSON object literal passed to a
// client-side call anchored by a known marker, for example
//
//	catpagejs,{"s1":{"A":["Abel, Carl Friedrich", ...], "B": [...]}});
//
// Extraction locates the first script containing the marker, isolates the
// object that follows the key prefix and decodes it preserving letter order.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	// DefaultMarker anchors the script that carries the index payload.
	DefaultMarker = "catpagejs"
	// ComposerKey prefixes the composer index on the composers listing page.
	ComposerKey = "s1"
	// CompositionKey prefixes the composition index on a composer's page.
	CompositionKey = "p1"
	// NameDelimiter separates a composition's canonical name from its disambiguator.
	NameDelimiter = "|"
)

var (
	// ErrMarkerNotFound reports that no script on the page carries the index marker.
	ErrMarkerNotFound = errors.New("catalog index marker not found")
	// ErrMalformedIndex reports an index payload that could not be isolated or decoded.
	ErrMalformedIndex = errors.New("catalog index malformed")
)

// Group holds the names listed under one letter heading.
type Group struct {
	Letter string
	Names  []string
}

// Index is a letter-grouped name listing in source order.
type Index []Group

// Names flattens the index into a single ordered slice.
func (idx Index) Names() []string {
	var out []string
	for _, g := range idx {
		out = append(out, g.Names...)
	}
	return out
}

// Len reports the total number of names across all letters.
func (idx Index) Len() int {
	n := 0
	for _, g := range idx {
		n += len(g.Names)
	}
	return n
}

// Parser extracts composer and composition indices from listing pages.
type Parser struct {
	marker       string
	composers    *regexp.Regexp
	compositions *regexp.Regexp
}

// NewParser builds a Parser anchored on marker. An empty marker selects DefaultMarker.
func NewParser(marker string) *Parser {
	if marker == "" {
		marker = DefaultMarker
	}
	return &Parser{
		marker:       marker,
		composers:    payloadPattern(marker, ComposerKey),
		compositions: payloadPattern(marker, CompositionKey),
	}
}

func payloadPattern(marker, key string) *regexp.Regexp {
	prefix := regexp.QuoteMeta(marker + `,{"` + key + `":`)
	return regexp.MustCompile(prefix + `(.*?)\}\);`)
}

// ComposerIndex extracts the composer-name index from the composers listing page.
func (p *Parser) ComposerIndex(doc *goquery.Document) (Index, error) {
	return p.extract(doc, p.composers)
}

// CompositionIndex extracts a composer's composition index. Names are
// canonicalized with CanonicalName.
func (p *Parser) CompositionIndex(doc *goquery.Document) (Index, error) {
	idx, err := p.extract(doc, p.compositions)
	if err != nil {
		return nil, err
	}
	for i := range idx {
		for j, name := range idx[i].Names {
			idx[i].Names[j] = CanonicalName(name)
		}
	}
	return idx, nil
}

// CanonicalName drops a trailing disambiguator, keeping the text before the
// first NameDelimiter.
func CanonicalName(name string) string {
	canonical, _, _ := strings.Cut(name, NameDelimiter)
	return canonical
}

func (p *Parser) extract(doc *goquery.Document, pattern *regexp.Regexp) (Index, error) {
	if doc == nil {
		return nil, ErrMarkerNotFound
	}
	var script string
	found := false
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if strings.Contains(text, p.marker) {
			script = text
			found = true
			return false
		}
		return true
	})
	if !found {
		return nil, ErrMarkerNotFound
	}
	match := pattern.FindStringSubmatch(script)
	if match == nil {
		return nil, fmt.Errorf("%w: payload prefix not present", ErrMalformedIndex)
	}
	idx, err := decodeIndex([]byte(match[1]))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedIndex, err)
	}
	return idx, nil
}

// decodeIndex walks the object token by token so that letters keep the order
// in which the page lists them.
func decodeIndex(payload []byte) (Index, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read index start: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("index must be an object, got %v", tok)
	}
	var idx Index
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read letter: %w", err)
		}
		letter, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected letter token %v", keyTok)
		}
		var names []string
		if err := dec.Decode(&names); err != nil {
			return nil, fmt.Errorf("decode names for %q: %w", letter, err)
		}
		idx = append(idx, Group{Letter: letter, Names: names})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("read index end: %w", err)
	}
	return idx, nil
}
