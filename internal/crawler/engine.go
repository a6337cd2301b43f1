package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/harmony-crawler/internal/catalog"
	"github.com/JakeFAU/harmony-crawler/internal/extract"
	"github.com/JakeFAU/harmony-crawler/internal/logging"
	"github.com/JakeFAU/harmony-crawler/internal/progress"
	"github.com/JakeFAU/harmony-crawler/internal/store"
)

// ErrPermissionDenied reports that the robots policy forbids a namespace.
var ErrPermissionDenied = errors.New("crawling not permitted")

// Fetcher retrieves and parses a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*goquery.Document, error)
}

// Gate answers robots policy queries.
type Gate interface {
	CanFetch(ctx context.Context, url string) bool
}

// IndexParser reads the embedded catalog indices from listing pages.
type IndexParser interface {
	ComposerIndex(doc *goquery.Document) (catalog.Index, error)
	CompositionIndex(doc *goquery.Document) (catalog.Index, error)
}

// Extractor reads entity metadata from detail pages.
type Extractor interface {
	Composer(doc *goquery.Document) extract.Lifespan
	Composition(doc *goquery.Document) (extract.Fields, error)
}

// Store is the persistence the engine needs.
type Store interface {
	store.Writer
	store.Checker
}

// Pauser blocks while the operator is deciding whether to stop the crawl.
type Pauser interface {
	Wait()
}

// Deps are the collaborators an Engine drives. Emitter and Pauser are optional.
type Deps struct {
	Gate      Gate
	Fetcher   Fetcher
	Parser    IndexParser
	Extractor Extractor
	Store     Store
	Emitter   progress.Emitter
	Pauser    Pauser
}

// Engine runs one sequential crawl at a time.
type Engine struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	now    func() time.Time
}

// New validates deps and builds an Engine.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Engine, error) {
	switch {
	case deps.Gate == nil:
		return nil, errors.New("crawler: gate is required")
	case deps.Fetcher == nil:
		return nil, errors.New("crawler: fetcher is required")
	case deps.Parser == nil:
		return nil, errors.New("crawler: index parser is required")
	case deps.Extractor == nil:
		return nil, errors.New("crawler: extractor is required")
	case deps.Store == nil:
		return nil, errors.New("crawler: store is required")
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Nop{}
	}
	return &Engine{
		cfg:    cfg,
		deps:   deps,
		logger: logging.OrNop(logger).Named("crawler"),
		now:    time.Now,
	}, nil
}

// run carries per-run state through the traversal.
type run struct {
	id      uuid.UUID
	logger  *zap.Logger
	summary *RunSummary
}

// Run performs one full traversal. It returns ErrPermissionDenied when the
// policy forbids the composer index or the composer namespace, and an error
// when the composer index cannot be read. Failures below that level are
// logged, tallied in the summary and never abort the run.
func (e *Engine) Run(ctx context.Context) (RunSummary, error) {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	summary := newRunSummary(id)
	r := &run{
		id:      summary.RunID,
		logger:  e.logger.With(zap.Stringer("run_id", summary.RunID)),
		summary: &summary,
	}
	start := e.now()
	e.emit(r, progress.Event{Stage: progress.StageRunStart})
	r.logger.Info("crawl started", zap.String("url", e.cfg.StartURL()))

	err = e.traverse(ctx, r)
	summary.Duration = e.now().Sub(start)
	if err != nil {
		e.emit(r, progress.Event{Stage: progress.StageRunError, Dur: summary.Duration, Note: err.Error()})
		r.logger.Error("crawl stopped", zap.Error(err), zap.Object("summary", summary))
		return summary, err
	}
	e.emit(r, progress.Event{Stage: progress.StageRunDone, Dur: summary.Duration})
	r.logger.Info("crawl finished", zap.Object("summary", summary))
	return summary, nil
}

func (e *Engine) traverse(ctx context.Context, r *run) error {
	startURL := e.cfg.StartURL()
	if !e.deps.Gate.CanFetch(ctx, startURL) {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, startURL)
	}
	doc, err := e.deps.Fetcher.Fetch(ctx, startURL)
	if err != nil {
		return fmt.Errorf("fetch composer index: %w", err)
	}
	index, err := e.deps.Parser.ComposerIndex(doc)
	if err != nil {
		return fmt.Errorf("parse composer index: %w", err)
	}
	r.logger.Info("composer index loaded", zap.Int("letters", len(index)), zap.Int("composers", index.Len()))

	if category := e.cfg.CategoryURL(); !e.deps.Gate.CanFetch(ctx, category) {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, category)
	}

	for _, name := range index.Names() {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.pause()
		e.handleComposer(ctx, r, name)
	}
	return ctx.Err()
}

func (e *Engine) handleComposer(ctx context.Context, r *run, name string) {
	logger := logging.Composer(r.logger, name)
	start := e.now()
	finish := func(outcome progress.Outcome, err error) {
		r.summary.Composers.add(outcome)
		evt := progress.Event{Stage: progress.StageComposerDone, Name: name, Outcome: outcome, Dur: e.now().Sub(start)}
		if err != nil {
			evt.Note = err.Error()
		}
		e.emit(r, evt)
	}

	if e.cfg.excluded(name) {
		logger.Info("skipping composer: excluded")
		finish(progress.OutcomeExcluded, nil)
		return
	}
	processed, err := e.deps.Store.IsComposerProcessed(ctx, name)
	if err != nil {
		logger.Error("composer lookup failed", zap.Error(err))
		finish(progress.OutcomeFailed, err)
		return
	}
	if processed {
		logger.Info("skipping composer: already processed")
		finish(progress.OutcomeSkipped, nil)
		return
	}

	logger.Info("processing composer")
	err = e.processComposer(ctx, r, logger, name)
	if ctx.Err() != nil {
		// Interrupted mid-composer; leave it eligible for the next run.
		finish(progress.OutcomeFailed, ctx.Err())
		return
	}
	outcome := progress.OutcomeSaved
	if err != nil {
		logger.Warn("composer failed", zap.Error(err))
		outcome = progress.OutcomeFailed
	}
	if merr := e.deps.Store.MarkComposerProcessed(ctx, name); merr != nil {
		logger.Error("mark composer processed failed", zap.Error(merr))
	}
	finish(outcome, err)
}

func (e *Engine) processComposer(ctx context.Context, r *run, logger *zap.Logger, name string) error {
	doc, err := e.deps.Fetcher.Fetch(ctx, e.cfg.ComposerURL(name))
	if err != nil {
		return fmt.Errorf("fetch composer page: %w", err)
	}
	life := e.deps.Extractor.Composer(doc)
	composer := store.Composer{FullName: name, BirthYear: life.Birth, DeathYear: life.Death}
	if err := e.deps.Store.UpsertComposer(ctx, composer); err != nil {
		return err
	}

	if wiki := e.cfg.WikiURL(); !e.deps.Gate.CanFetch(ctx, wiki) {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, wiki)
	}
	index, err := e.deps.Parser.CompositionIndex(doc)
	if err != nil {
		return fmt.Errorf("parse composition index: %w", err)
	}
	logger.Debug("composition index loaded", zap.Int("compositions", index.Len()))

	for _, title := range index.Names() {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.pause()
		e.handleComposition(ctx, r, logger, name, title)
	}
	return nil
}

func (e *Engine) handleComposition(ctx context.Context, r *run, composerLogger *zap.Logger, composer, name string) {
	logger := logging.Composition(composerLogger, name)
	start := e.now()
	outcome, err := e.processComposition(ctx, composer, name)
	switch outcome {
	case progress.OutcomeFailed:
		logger.Warn("composition failed", zap.Error(err))
	case progress.OutcomeDropped:
		logger.Warn("composition dropped: composer unresolved or name taken")
	case progress.OutcomeSkipped:
		logger.Debug("skipping composition: already saved")
	default:
		logger.Debug("composition saved")
	}
	r.summary.Compositions.add(outcome)
	evt := progress.Event{
		Stage:    progress.StageCompositionDone,
		Name:     name,
		Composer: composer,
		Outcome:  outcome,
		Dur:      e.now().Sub(start),
	}
	if err != nil {
		evt.Note = err.Error()
	}
	e.emit(r, evt)
}

func (e *Engine) processComposition(ctx context.Context, composer, name string) (progress.Outcome, error) {
	saved, err := e.deps.Store.IsCompositionSaved(ctx, name)
	if err != nil {
		return progress.OutcomeFailed, err
	}
	if saved {
		return progress.OutcomeSkipped, nil
	}
	doc, err := e.deps.Fetcher.Fetch(ctx, e.cfg.CompositionURL(name))
	if err != nil {
		return progress.OutcomeFailed, fmt.Errorf("fetch composition page: %w", err)
	}
	fields, err := e.deps.Extractor.Composition(doc)
	if err != nil {
		return progress.OutcomeFailed, fmt.Errorf("extract composition fields: %w", err)
	}

	ids := make(map[store.Dimension]*int64, len(store.Dimensions))
	for _, dim := range store.Dimensions {
		id, err := e.deps.Store.UpsertDimension(ctx, dim, fields.Value(dimensionFields[dim]))
		if err != nil {
			return progress.OutcomeFailed, err
		}
		ids[dim] = id
	}
	inserted, err := e.deps.Store.InsertComposition(ctx, store.Composition{
		FullName:          name,
		WorkTitle:         fields[extract.FieldWorkTitle],
		ComposerName:      composer,
		KeyID:             ids[store.DimensionKeys],
		InstrumentationID: ids[store.DimensionInstrumentations],
		StyleID:           ids[store.DimensionStyles],
		LanguageID:        ids[store.DimensionLanguages],
	})
	if err != nil {
		return progress.OutcomeFailed, err
	}
	if !inserted {
		return progress.OutcomeDropped, nil
	}
	return progress.OutcomeSaved, nil
}

var dimensionFields = map[store.Dimension]extract.Field{
	store.DimensionKeys:             extract.FieldKey,
	store.DimensionInstrumentations: extract.FieldInstrumentation,
	store.DimensionStyles:           extract.FieldPieceStyle,
	store.DimensionLanguages:        extract.FieldLanguage,
}

func (e *Engine) pause() {
	if e.deps.Pauser != nil {
		e.deps.Pauser.Wait()
	}
}

func (e *Engine) emit(r *run, evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(r.id)
	evt.TS = e.now().UTC()
	e.deps.Emitter.Emit(evt)
}
