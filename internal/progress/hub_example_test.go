package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExampleHub_Emit counts saved compositions through a custom sink.
func ExampleHub_Emit() {
	saved := 0
	sink := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage == StageCompositionDone && evt.Outcome == OutcomeSaved {
				saved++
			}
		}
		return nil
	})
	hub := NewHub(Config{MaxBatchWait: time.Second}, sink)

	runID := UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001"))
	for _, name := range []string{"Mass in B minor", "Goldberg Variations"} {
		hub.Emit(Event{RunID: runID, TS: time.Unix(0, 0), Stage: StageCompositionDone, Name: name, Outcome: OutcomeSaved})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("compositions saved: %d\n", saved)
	// Output:
	// compositions saved: 2
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
