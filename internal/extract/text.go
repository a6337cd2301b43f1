package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// Fold walks the tree rooted at n depth-first in document order, threading acc
// through fn for every visited node. A node for which skip returns true is not
// visited and neither are its descendants.
func Fold[T any](n *html.Node, acc T, skip func(*html.Node) bool, fn func(T, *html.Node) T) T {
	if n == nil || (skip != nil && skip(n)) {
		return acc
	}
	acc = fn(acc, n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		acc = Fold(c, acc, skip, fn)
	}
	return acc
}

// HasClass reports whether n is an element carrying class in its class attribute.
func HasClass(n *html.Node, class string) bool {
	if n == nil || n.Type != html.ElementNode || class == "" {
		return false
	}
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

// VisibleText concatenates the text beneath n, leaving out any subtree whose
// root carries hiddenClass.
func VisibleText(n *html.Node, hiddenClass string) string {
	skip := func(node *html.Node) bool { return HasClass(node, hiddenClass) }
	b := Fold(n, &strings.Builder{}, skip, func(b *strings.Builder, node *html.Node) *strings.Builder {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		return b
	})
	return b.String()
}

// JoinedText trims every text node beneath n, drops the empty ones and joins
// the rest with sep.
func JoinedText(n *html.Node, sep string) string {
	parts := Fold(n, []string(nil), nil, func(parts []string, node *html.Node) []string {
		if node.Type != html.TextNode {
			return parts
		}
		if s := strings.TrimSpace(node.Data); s != "" {
			parts = append(parts, s)
		}
		return parts
	})
	return strings.Join(parts, sep)
}
