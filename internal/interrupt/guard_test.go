package interrupt

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type scriptedPrompter struct {
	mu       sync.Mutex
	answers  []bool
	err      error
	release  chan struct{}
	messages []string
}

func (p *scriptedPrompter) Confirm(message string) (bool, error) {
	if p.release != nil {
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	if p.err != nil {
		return false, p.err
	}
	answer := p.answers[0]
	p.answers = p.answers[1:]
	return answer, nil
}

func (p *scriptedPrompter) Asked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

// newTestGuard replaces OS signal delivery with a channel the test feeds.
func newTestGuard(cfg Config) (*Guard, chan<- os.Signal) {
	g := New(cfg, zap.NewNop())
	feed := make(chan os.Signal, 1)
	g.notify = func(c chan<- os.Signal, _ ...os.Signal) {
		go func() {
			for {
				select {
				case sig := <-feed:
					c <- sig
				case <-g.stop:
					return
				}
			}
		}()
	}
	g.stopNotify = func(chan<- os.Signal) {}
	return g, feed
}

func TestGuardResumesWhenDeclined(t *testing.T) {
	var exits atomic.Int32
	prompter := &scriptedPrompter{answers: []bool{false, true}}
	g, feed := newTestGuard(Config{Confirm: true, Prompter: prompter, OnExit: func() { exits.Add(1) }})
	g.Start()

	feed <- os.Interrupt
	require.Eventually(t, func() bool { return prompter.Asked() == 1 }, time.Second, 5*time.Millisecond)
	g.Wait()
	require.Zero(t, exits.Load())

	feed <- syscall.SIGTERM
	require.Eventually(t, func() bool { return exits.Load() == 1 }, time.Second, 5*time.Millisecond)
	g.Stop()
	require.Equal(t, []string{DefaultMessage, DefaultMessage}, prompter.messages)
}

func TestGuardWaitBlocksWhilePrompting(t *testing.T) {
	prompter := &scriptedPrompter{answers: []bool{false}, release: make(chan struct{})}
	g, feed := newTestGuard(Config{Confirm: true, Prompter: prompter, OnExit: func() {}})
	g.Start()
	defer g.Stop()

	feed <- os.Interrupt
	require.Eventually(t, func() bool {
		if g.mu.TryRLock() {
			g.mu.RUnlock()
			return false
		}
		return true
	}, time.Second, 5*time.Millisecond)

	waited := make(chan struct{})
	go func() {
		g.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		t.Fatal("Wait returned while the prompt was open")
	case <-time.After(50 * time.Millisecond):
	}

	close(prompter.release)
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the prompt closed")
	}
}

func TestGuardExitsOnPromptError(t *testing.T) {
	var exits atomic.Int32
	prompter := &scriptedPrompter{err: errors.New("interrupt")}
	g, feed := newTestGuard(Config{Confirm: true, Prompter: prompter, OnExit: func() { exits.Add(1) }})
	g.Start()

	feed <- os.Interrupt
	require.Eventually(t, func() bool { return exits.Load() == 1 }, time.Second, 5*time.Millisecond)
	g.Stop()
}

func TestGuardWithoutConfirmationExitsImmediately(t *testing.T) {
	var exits atomic.Int32
	prompter := &scriptedPrompter{}
	g, feed := newTestGuard(Config{Confirm: false, Prompter: prompter, OnExit: func() { exits.Add(1) }})
	g.Start()

	feed <- os.Interrupt
	require.Eventually(t, func() bool { return exits.Load() == 1 }, time.Second, 5*time.Millisecond)
	g.Stop()
	require.Zero(t, prompter.Asked())
}

func TestGuardStopIsIdempotent(t *testing.T) {
	g := New(Config{OnExit: func() {}}, nil)
	g.Start()
	g.Stop()
	g.Stop()
	require.Equal(t, DefaultMessage, g.cfg.Message)
	require.Len(t, g.cfg.Signals, 2)
}
