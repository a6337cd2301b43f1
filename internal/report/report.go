// Package report aggregates persisted compositions for the dashboard and CLI.
package report

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/JakeFAU/harmony-crawler/internal/store"
)

// Category selects one attribute of a composition row.
type Category string

// Supported categories.
const (
	CategoryComposer        Category = "composer"
	CategoryKey             Category = "key"
	CategoryInstrumentation Category = "instrumentation"
	CategoryStyle           Category = "style"
	CategoryLanguage        Category = "language"
)

// Categories lists every category in display order.
var Categories = []Category{CategoryComposer, CategoryKey, CategoryInstrumentation, CategoryStyle, CategoryLanguage}

// ParseCategory accepts a category name in any case. "piece style" and
// "piece_style" are accepted for CategoryStyle.
func ParseCategory(s string) (Category, error) {
	c := strings.ToLower(strings.TrimSpace(s))
	switch c {
	case "piece style", "piece_style", "piece-style":
		return CategoryStyle, nil
	}
	if slices.Contains(Categories, Category(c)) {
		return Category(c), nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Value returns the row's value for c.
func (c Category) Value(row store.CompositionRow) string {
	switch c {
	case CategoryComposer:
		return row.Composer
	case CategoryKey:
		return row.Key
	case CategoryInstrumentation:
		return row.Instrumentation
	case CategoryStyle:
		return row.Style
	case CategoryLanguage:
		return row.Language
	}
	return ""
}

// Count pairs a value with how often it occurred.
type Count struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// TopN returns the n most common non-empty values of category. Ties keep
// the order in which values were first seen. n <= 0 returns every value.
func TopN(rows []store.CompositionRow, category Category, n int) []Count {
	values := make([]string, 0, len(rows))
	for _, row := range rows {
		values = append(values, category.Value(row))
	}
	return mostCommon(values, n)
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_][\p{L}\p{N}_']+`)

// TopWords counts the words of texts, ignoring case, and returns the n most
// common. Words are runs of two or more letters, digits or apostrophes.
func TopWords(texts []string, n int) []Count {
	var words []string
	for _, t := range texts {
		words = append(words, wordPattern.FindAllString(strings.ToLower(t), -1)...)
	}
	return mostCommon(words, n)
}

func mostCommon(values []string, n int) []Count {
	index := map[string]int{}
	counts := []Count{}
	for _, v := range values {
		if v == "" {
			continue
		}
		i, ok := index[v]
		if !ok {
			i = len(counts)
			index[v] = i
			counts = append(counts, Count{Value: v})
		}
		counts[i].Count++
	}
	slices.SortStableFunc(counts, func(a, b Count) int { return b.Count - a.Count })
	if n > 0 && len(counts) > n {
		counts = counts[:n]
	}
	return counts
}

// Series holds the counts of one Y value aligned with Frequency.X.
type Series struct {
	Value  string `json:"value"`
	Counts []int  `json:"counts"`
}

// Frequency cross-tabulates two categories.
type Frequency struct {
	X      Category `json:"x"`
	Y      Category `json:"y"`
	Labels []string `json:"labels"`
	Series []Series `json:"series"`
}

// CrossTab counts, for each value of x, how often each value of y occurs.
// Rows where either value is empty are ignored. Labels and series follow
// first-seen order.
func CrossTab(rows []store.CompositionRow, x, y Category) Frequency {
	out := Frequency{X: x, Y: y, Labels: []string{}, Series: []Series{}}
	xIndex := map[string]int{}
	yIndex := map[string]int{}
	var cells []map[int]int
	for _, row := range rows {
		xv, yv := x.Value(row), y.Value(row)
		if xv == "" || yv == "" {
			continue
		}
		xi, ok := xIndex[xv]
		if !ok {
			xi = len(out.Labels)
			xIndex[xv] = xi
			out.Labels = append(out.Labels, xv)
		}
		yi, ok := yIndex[yv]
		if !ok {
			yi = len(cells)
			yIndex[yv] = yi
			cells = append(cells, map[int]int{})
			out.Series = append(out.Series, Series{Value: yv})
		}
		cells[yi][xi]++
	}
	for yi := range out.Series {
		counts := make([]int, len(out.Labels))
		for xi, c := range cells[yi] {
			counts[xi] = c
		}
		out.Series[yi].Counts = counts
	}
	return out
}
