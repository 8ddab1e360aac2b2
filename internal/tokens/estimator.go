// Package tokens estimates token counts for conversation content.
//
// A precise sub-word tokenizer is preferred when one can be initialized.
// Until initialization finishes, or if every tokenizer fails to load, a
// word/character heuristic is used instead. Counts already cached on
// messages are never recomputed when the method upgrades.
package tokens

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"
)

const (
	// ImageTokenCost is the budget charged per attached image: the cost of
	// one 1024x1024 high-detail image. Images are never tokenized.
	ImageTokenCost = 765

	// MessageOverhead accounts for role and formatting tokens per message.
	MessageOverhead = 4

	// MethodHeuristic is reported while no tokenizer is installed.
	MethodHeuristic = "heuristic"
)

// Tokenizer counts tokens precisely for a given vocabulary.
type Tokenizer interface {
	Count(text string) int
}

// Backend is one candidate tokenizer, tried in order during Start.
type Backend struct {
	Name string
	Load func() (Tokenizer, error)
}

type installed struct {
	name string
	tok  Tokenizer
}

// Estimator turns text into token counts. It is safe for concurrent use.
type Estimator struct {
	backends []Backend
	logger   *slog.Logger

	once    sync.Once
	ready   chan struct{}
	current atomic.Pointer[installed]
}

// NewEstimator creates an estimator that will try backends in order when
// Start is called. With no backends it always uses the heuristic.
func NewEstimator(logger *slog.Logger, backends ...Backend) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{
		backends: backends,
		logger:   logger,
		ready:    make(chan struct{}),
	}
}

// Start initializes the tokenizer in the background. Only the first call
// has any effect.
func (e *Estimator) Start(ctx context.Context) {
	e.once.Do(func() {
		go e.initialize(ctx)
	})
}

func (e *Estimator) initialize(ctx context.Context) {
	defer close(e.ready)
	for _, b := range e.backends {
		if ctx.Err() != nil {
			return
		}
		tok, err := b.Load()
		if err != nil {
			e.logger.Warn("tokenizer unavailable, trying next", "tokenizer", b.Name, "error", err)
			continue
		}
		e.current.Store(&installed{name: b.Name, tok: tok})
		e.logger.Info("tokenizer ready", "tokenizer", b.Name)
		return
	}
	e.logger.Warn("no tokenizer available, using heuristic estimates")
}

// Ready is closed once initialization has finished, successfully or not.
func (e *Estimator) Ready() <-chan struct{} {
	return e.ready
}

// Method names the counting method currently in use.
func (e *Estimator) Method() string {
	if cur := e.current.Load(); cur != nil {
		return cur.name
	}
	return MethodHeuristic
}

// Estimate returns the token count for text. It never fails.
func (e *Estimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	if cur := e.current.Load(); cur != nil {
		return cur.tok.Count(text)
	}
	return Heuristic(text)
}

// MessageCost is the full budgeted cost of a message: its content, a fixed
// cost per image, and the per-message overhead.
func (e *Estimator) MessageCost(content string, imageCount int) int {
	return e.Estimate(content) + imageCount*ImageTokenCost + MessageOverhead
}

// Heuristic estimates ceil(max(words*1.3, chars/4)). The floor on both
// terms keeps dense short text and sparse long text from under-counting.
func Heuristic(text string) int {
	words := len(strings.Fields(text))
	chars := utf8.RuneCountInString(text)
	// Integer form of the same bound; 1.3 is not exact in binary floating point.
	return max(ceilDiv(words*13, 10), ceilDiv(chars, 4))
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
