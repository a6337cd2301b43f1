package crawler

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/harmony-crawler/internal/progress"
)

// Tally counts entities per outcome.
type Tally map[progress.Outcome]int

func (t Tally) add(o progress.Outcome) {
	t[o]++
}

// Total sums every outcome.
func (t Tally) Total() int {
	n := 0
	for _, v := range t {
		n += v
	}
	return n
}

// MarshalLogObject implements zapcore.ObjectMarshaler with stable key order.
func (t Tally) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	keys := make([]string, 0, len(t))
	for o := range t {
		keys = append(keys, string(o))
	}
	slices.Sort(keys)
	for _, k := range keys {
		enc.AddInt(k, t[progress.Outcome(k)])
	}
	return nil
}

// RunSummary reports what one Run did.
type RunSummary struct {
	RunID        uuid.UUID
	Composers    Tally
	Compositions Tally
	Duration     time.Duration
}

func newRunSummary(id uuid.UUID) RunSummary {
	return RunSummary{RunID: id, Composers: Tally{}, Compositions: Tally{}}
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s RunSummary) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if err := enc.AddObject("composers", s.Composers); err != nil {
		return err
	}
	if err := enc.AddObject("compositions", s.Compositions); err != nil {
		return err
	}
	enc.AddDuration("duration", s.Duration)
	return nil
}
