package crawler

import (
	"encoding/json"
	"fmt"
	"strings"
)

func indexPage(key string, groups ...[2]any) string {
	var b strings.Builder
	b.WriteString("{")
	for i, g := range groups {
		if i > 0 {
			b.WriteString(",")
		}
		letter, _ := json.Marshal(g[0])
		names, _ := json.Marshal(g[1])
		fmt.Fprintf(&b, "%s:%s", letter, names)
	}
	b.WriteString("}")
	return fmt.Sprintf(`<html><head><script>RLQ.push(function(){x(catpagejs,{%q:%s});});</script></head><body></body></html>`, key, b.String())
}

func group(letter string, names ...string) [2]any {
	return [2]any{letter, names}
}

func composerPage(header string, works ...[2]any) string {
	page := indexPage("p1", works...)
	return strings.Replace(page, "<body>", `<body><div class="cp_firsth">`+header+`</div>`, 1)
}

func compositionPage(rows map[string]string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="wi_body"><table>`)
	for header, value := range rows {
		fmt.Fprintf(&b, `<tr><th>%s<span class="ms555">edit</span></th><td>%s</td></tr>`, header, value)
	}
	b.WriteString(`</table></div></body></html>`)
	return b.String()
}

// catalogPages is a small catalog keyed by decoded request path.
func catalogPages() map[string]string {
	return map[string]string{
		"/wiki/Category:Composers": indexPage("s1",
			group("B", "Bach, Johann Sebastian"),
			group("V", "Various Artists"),
			group("S", "Schubert, Franz"),
		),
		"/wiki/Category:Bach,_Johann_Sebastian": composerPage("Johann Sebastian Bach (1685–1750)",
			group("F", "Fugue in C|Op.1", "Fugue in C|Op.2"),
			group("M", "Mass in B minor"),
		),
		"/wiki/Category:Schubert,_Franz": composerPage("fl. 1820",
			group("L", "Lied"),
		),
		"/wiki/Fugue_in_C": compositionPage(map[string]string{
			"Key":             "C major",
			"Instrumentation": "Organ",
			"Piece Style":     "Baroque",
			"Work Title":      "Fugue",
			"Language":        "Unknown",
		}),
		"/wiki/Lied": compositionPage(map[string]string{
			"Key":         "see below",
			"Piece Style": "Romantic",
			"Work Title":  "Lied",
			"Language":    "German",
		}),
	}
}
