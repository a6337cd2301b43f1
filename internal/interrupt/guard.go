// Package interrupt asks the operator to confirm before a termination signal
// stops a crawl, pausing the crawl while the question is open.
package interrupt

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/AlecAivazis/survey/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/harmony-crawler/internal/logging"
)

// DefaultMessage is the confirmation question.
const DefaultMessage = "Do you want to exit scraping?"

// Prompter asks a yes/no question.
type Prompter interface {
	Confirm(message string) (bool, error)
}

// SurveyPrompter asks on the terminal, defaulting to "no".
type SurveyPrompter struct {
	Opts []survey.AskOpt
}

// Confirm implements Prompter.
func (p SurveyPrompter) Confirm(message string) (bool, error) {
	answer := false
	prompt := &survey.Confirm{Message: message, Default: false}
	if err := survey.AskOne(prompt, &answer, p.Opts...); err != nil {
		return false, err
	}
	return answer, nil
}

// Config controls a Guard.
type Config struct {
	// Confirm asks before exiting; when false the first signal exits.
	Confirm  bool
	Message  string
	Prompter Prompter
	// OnExit stops the process. Defaults to os.Exit(0).
	OnExit  func()
	Signals []os.Signal
}

// Guard intercepts termination signals. While a prompt is open, Wait blocks.
type Guard struct {
	cfg    Config
	logger *zap.Logger

	mu   sync.RWMutex
	sigs chan os.Signal
	stop chan struct{}
	done chan struct{}
	once sync.Once

	notify     func(chan<- os.Signal, ...os.Signal)
	stopNotify func(chan<- os.Signal)
}

// New builds a Guard; call Start to begin listening.
func New(cfg Config, logger *zap.Logger) *Guard {
	if cfg.Message == "" {
		cfg.Message = DefaultMessage
	}
	if cfg.Prompter == nil {
		cfg.Prompter = SurveyPrompter{}
	}
	if cfg.OnExit == nil {
		cfg.OnExit = func() { os.Exit(0) }
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	return &Guard{
		cfg:        cfg,
		logger:     logging.OrNop(logger).Named("interrupt"),
		sigs:       make(chan os.Signal, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		notify:     signal.Notify,
		stopNotify: signal.Stop,
	}
}

// Start subscribes to the configured signals.
func (g *Guard) Start() {
	g.notify(g.sigs, g.cfg.Signals...)
	go g.loop()
}

// Stop unsubscribes and waits for the listener to exit. It must follow Start.
func (g *Guard) Stop() {
	g.once.Do(func() {
		g.stopNotify(g.sigs)
		close(g.stop)
	})
	<-g.done
}

// Wait blocks while a confirmation prompt is open.
func (g *Guard) Wait() {
	g.mu.RLock()
	g.mu.RUnlock() //nolint:staticcheck // empty critical section is the barrier
}

func (g *Guard) loop() {
	defer close(g.done)
	for {
		select {
		case sig := <-g.sigs:
			if g.handle(sig) {
				return
			}
		case <-g.stop:
			return
		}
	}
}

// handle reports whether the guard triggered an exit.
func (g *Guard) handle(sig os.Signal) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	logger := g.logger.With(zap.Stringer("signal", sig))
	if !g.cfg.Confirm {
		logger.Warn("signal received; exiting")
		g.cfg.OnExit()
		return true
	}
	logger.Warn("signal received; awaiting confirmation")
	ok, err := g.cfg.Prompter.Confirm(g.cfg.Message)
	switch {
	case err != nil:
		logger.Warn("confirmation failed; exiting", zap.Error(err))
	case ok:
		logger.Info("exit confirmed")
	default:
		logger.Info("resuming crawl")
		return false
	}
	g.cfg.OnExit()
	return true
}
