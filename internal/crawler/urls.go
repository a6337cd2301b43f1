package crawler

import (
	"net/url"
	"strings"
)

// Config locates the catalog and names the composers to leave out.
type Config struct {
	BaseURL        string
	WikiPath       string
	CategoryPrefix string
	ComposersPage  string
	// ExcludeNames are matched case-insensitively as substrings of composer names.
	ExcludeNames []string
}

// WikiURL is the namespace holding composition pages.
func (c Config) WikiURL() string {
	return c.BaseURL + c.WikiPath
}

// CategoryURL is the namespace holding composer pages.
func (c Config) CategoryURL() string {
	return c.WikiURL() + c.CategoryPrefix
}

// StartURL is the composer index page.
func (c Config) StartURL() string {
	return c.CategoryURL() + c.ComposersPage
}

// ComposerURL returns the category page listing a composer's works.
func (c Config) ComposerURL(name string) string {
	return c.CategoryURL() + pageName(name)
}

// CompositionURL returns a composition's detail page.
func (c Config) CompositionURL(name string) string {
	return c.WikiURL() + pageName(name)
}

// pageName converts a display name to its wiki page path. Slashes separate
// subpages and stay literal.
func pageName(name string) string {
	segments := strings.Split(strings.ReplaceAll(name, " ", "_"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func (c Config) excluded(name string) bool {
	lower := strings.ToLower(name)
	for _, ex := range c.ExcludeNames {
		if ex != "" && strings.Contains(lower, strings.ToLower(ex)) {
			return true
		}
	}
	return false
}
