package crawler

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/harmony-crawler/internal/catalog"
	"github.com/JakeFAU/harmony-crawler/internal/extract"
	"github.com/JakeFAU/harmony-crawler/internal/progress"
	"github.com/JakeFAU/harmony-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/harmony-crawler/internal/store"
)

const testBase = "https://catalog.test/"

// pageFetcher serves catalogPages by URL and records every request.
type pageFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	fetched []string
	onFetch func(url string)
}

func newPageFetcher() *pageFetcher {
	pages := map[string]string{}
	for path, body := range catalogPages() {
		pages[path] = body
	}
	return &pageFetcher{pages: pages}
}

func (f *pageFetcher) Fetch(ctx context.Context, rawURL string) (*goquery.Document, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, rawURL)
	hook := f.onFetch
	f.mu.Unlock()
	if hook != nil {
		hook(rawURL)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := decodedPath(rawURL)
	if err != nil {
		return nil, err
	}
	body, ok := f.pages[path]
	if !ok {
		return nil, errors.New("404 not found: " + path)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(body))
}

func (f *pageFetcher) Fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

func decodedPath(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	return u.Path, nil
}

// denyGate forbids exactly the listed URLs.
type denyGate struct {
	denied []string
	checks []string
}

func (g *denyGate) CanFetch(_ context.Context, target string) bool {
	g.checks = append(g.checks, target)
	for _, denied := range g.denied {
		if target == denied {
			return false
		}
	}
	return true
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Stage)
	}
	return out
}

type countingPauser struct{ n int }

func (p *countingPauser) Wait() { p.n++ }

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestEngine(t *testing.T, deps Deps) *Engine {
	t.Helper()
	if deps.Parser == nil {
		deps.Parser = catalog.NewParser(catalog.DefaultMarker)
	}
	if deps.Extractor == nil {
		deps.Extractor = extract.New()
	}
	if deps.Gate == nil {
		deps.Gate = &denyGate{}
	}
	e, err := New(testConfig(testBase), deps, zap.NewNop())
	require.NoError(t, err)
	return e
}

func TestNewRequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := New(testConfig(testBase), Deps{}, nil)
	require.ErrorContains(t, err, "gate is required")

	_, err = New(testConfig(testBase), Deps{Gate: &denyGate{}, Fetcher: newPageFetcher()}, nil)
	require.ErrorContains(t, err, "index parser is required")
}

func TestRunPersistsCatalog(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	fetcher := newPageFetcher()
	emitter := &recordingEmitter{}
	pauser := &countingPauser{}

	summary, err := newTestEngine(t, Deps{Fetcher: fetcher, Store: st, Emitter: emitter, Pauser: pauser}).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, Tally{progress.OutcomeSaved: 2, progress.OutcomeExcluded: 1}, summary.Composers)
	assert.Equal(t, Tally{
		progress.OutcomeSaved:   2,
		progress.OutcomeSkipped: 1,
		progress.OutcomeFailed:  1,
	}, summary.Compositions)
	assert.Equal(t, 7, pauser.n, "one pause per composer and per composition")

	rows, err := st.ListCompositions(ctx)
	require.NoError(t, err)
	require.Equal(t, []store.CompositionRow{
		{FullName: "Fugue in C", WorkTitle: "Fugue", Composer: "Bach, Johann Sebastian", Key: "C major", Instrumentation: "Organ", Style: "Baroque"},
		{FullName: "Lied", WorkTitle: "Lied", Composer: "Schubert, Franz", Style: "Romantic", Language: "German"},
	}, rows)

	names, err := st.ListComposerNames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Bach, Johann Sebastian", "Schubert, Franz"}, names)

	for _, name := range names {
		processed, err := st.IsComposerProcessed(ctx, name)
		require.NoError(t, err)
		assert.True(t, processed, name)
	}
	for _, fetched := range fetcher.Fetched() {
		assert.NotContains(t, fetched, "Various")
	}

	stages := emitter.Stages()
	require.Equal(t, progress.StageRunStart, stages[0])
	require.Equal(t, progress.StageRunDone, stages[len(stages)-1])
	for _, evt := range emitter.events {
		require.NoError(t, evt.Validate())
		assert.Equal(t, progress.UUIDToBytes(summary.RunID), evt.RunID)
	}
}

func TestRunIsIdempotentAndResumable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)

	first := newPageFetcher()
	_, err := newTestEngine(t, Deps{Fetcher: first, Store: st}).Run(ctx)
	require.NoError(t, err)
	countsBefore, err := st.TableCounts(ctx)
	require.NoError(t, err)

	second := newPageFetcher()
	summary, err := newTestEngine(t, Deps{Fetcher: second, Store: st}).Run(ctx)
	require.NoError(t, err)

	countsAfter, err := st.TableCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, countsBefore, countsAfter)
	require.Equal(t, []string{testBase + "wiki/Category:Composers"}, second.Fetched(),
		"processed composers are not refetched")
	require.Equal(t, Tally{progress.OutcomeSkipped: 2, progress.OutcomeExcluded: 1}, summary.Composers)
	require.Empty(t, summary.Compositions)
}

func TestRunPermissionDenied(t *testing.T) {
	t.Parallel()

	cfg := testConfig(testBase)
	tests := []struct {
		name        string
		denied      string
		wantFetches int
	}{
		{name: "composer index", denied: cfg.StartURL(), wantFetches: 0},
		{name: "composer namespace", denied: cfg.CategoryURL(), wantFetches: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st := newTestStore(t)
			fetcher := newPageFetcher()
			emitter := &recordingEmitter{}
			gate := &denyGate{denied: []string{tt.denied}}

			_, err := newTestEngine(t, Deps{Gate: gate, Fetcher: fetcher, Store: st, Emitter: emitter}).Run(context.Background())
			require.ErrorIs(t, err, ErrPermissionDenied)
			require.Len(t, fetcher.Fetched(), tt.wantFetches)
			require.Equal(t, []progress.Stage{progress.StageRunStart, progress.StageRunError}, emitter.Stages())

			counts, err := st.TableCounts(context.Background())
			require.NoError(t, err)
			for _, c := range counts {
				require.Zero(t, c.Rows, c.Table)
			}
		})
	}
}

func TestRunWikiDeniedSkipsCompositions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	fetcher := newPageFetcher()
	gate := &denyGate{denied: []string{testConfig(testBase).WikiURL()}}

	summary, err := newTestEngine(t, Deps{Gate: gate, Fetcher: fetcher, Store: st}).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, Tally{progress.OutcomeFailed: 2, progress.OutcomeExcluded: 1}, summary.Composers)

	saved, err := st.IsComposerSaved(ctx, "Bach, Johann Sebastian")
	require.NoError(t, err)
	require.True(t, saved, "composer is stored before the composition listing is checked")
	processed, err := st.IsComposerProcessed(ctx, "Bach, Johann Sebastian")
	require.NoError(t, err)
	require.True(t, processed)
	require.Len(t, fetcher.Fetched(), 3)
}

func TestRunComposerIndexErrors(t *testing.T) {
	t.Parallel()

	fetcher := newPageFetcher()
	fetcher.pages["/wiki/Category:Composers"] = "<html><body>no index here</body></html>"
	_, err := newTestEngine(t, Deps{Fetcher: fetcher, Store: newTestStore(t)}).Run(context.Background())
	require.ErrorIs(t, err, catalog.ErrMarkerNotFound)

	fetcher = newPageFetcher()
	delete(fetcher.pages, "/wiki/Category:Composers")
	_, err = newTestEngine(t, Deps{Fetcher: fetcher, Store: newTestStore(t)}).Run(context.Background())
	require.ErrorContains(t, err, "fetch composer index")
}

func TestRunIsolatesComposerFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	fetcher := newPageFetcher()
	fetcher.pages["/wiki/Category:Bach,_Johann_Sebastian"] = "<html><body>broken</body></html>"

	summary, err := newTestEngine(t, Deps{Fetcher: fetcher, Store: st}).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Composers[progress.OutcomeFailed])
	require.Equal(t, 1, summary.Composers[progress.OutcomeSaved])

	saved, err := st.IsCompositionSaved(ctx, "Lied")
	require.NoError(t, err)
	require.True(t, saved, "siblings continue after a composer fails")
	processed, err := st.IsComposerProcessed(ctx, "Bach, Johann Sebastian")
	require.NoError(t, err)
	require.True(t, processed, "failed composers are still marked processed")
}

func TestRunMalformedDetailRowFailsComposition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	fetcher := newPageFetcher()
	fetcher.pages["/wiki/Lied"] = `<html><body><div class="wi_body"><table>` +
		`<tr><th>Language</th><th>Key</th><td>German</td></tr>` +
		`</table></div></body></html>`

	summary, err := newTestEngine(t, Deps{Fetcher: fetcher, Store: st}).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Compositions[progress.OutcomeFailed])
	require.Equal(t, 1, summary.Compositions[progress.OutcomeSaved])

	saved, err := st.IsCompositionSaved(ctx, "Lied")
	require.NoError(t, err)
	require.False(t, saved)
	counts, err := st.TableCounts(ctx)
	require.NoError(t, err)
	for _, c := range counts {
		if c.Table == "languages" {
			require.Zero(t, c.Rows, "no dimension rows are written for an abandoned composition")
		}
	}
	processed, err := st.IsComposerProcessed(ctx, "Schubert, Franz")
	require.NoError(t, err)
	require.True(t, processed)
}

// failingStore fails the processed lookup for one composer.
type failingStore struct {
	*sqlite.Store
	name string
}

func (f failingStore) IsComposerProcessed(ctx context.Context, name string) (bool, error) {
	if name == f.name {
		return false, errors.New("database is locked")
	}
	return f.Store.IsComposerProcessed(ctx, name)
}

func TestRunStoreLookupFailureLeavesComposerUnprocessed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)

	summary, err := newTestEngine(t, Deps{
		Fetcher: newPageFetcher(),
		Store:   failingStore{Store: st, name: "Bach, Johann Sebastian"},
	}).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Composers[progress.OutcomeFailed])

	saved, err := st.IsComposerSaved(ctx, "Bach, Johann Sebastian")
	require.NoError(t, err)
	require.False(t, saved)
}

func TestRunCancellationLeavesComposerResumable(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := newPageFetcher()
	fetcher.onFetch = func(target string) {
		if strings.HasSuffix(target, "/wiki/Mass_in_B_minor") {
			cancel()
		}
	}
	_, err := newTestEngine(t, Deps{Fetcher: fetcher, Store: st}).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	bg := context.Background()
	saved, err := st.IsCompositionSaved(bg, "Fugue in C")
	require.NoError(t, err)
	require.True(t, saved)
	processed, err := st.IsComposerProcessed(bg, "Bach, Johann Sebastian")
	require.NoError(t, err)
	require.False(t, processed)
	saved, err = st.IsComposerSaved(bg, "Schubert, Franz")
	require.NoError(t, err)
	require.False(t, saved)
}
