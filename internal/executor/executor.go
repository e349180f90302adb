// Package executor runs single subtask attempts against the tool dispatcher
// with bounded timeouts and failure classification. Retry waits are realized
// as scheduled retry timestamps in the queue, so Execute performs exactly
// one attempt and reports whether and when the next one should happen.
package executor

import (
	"context"
	"log"
	"time"

	"github.com/fentz26/regent/internal/models"
)

// Dispatcher routes and executes one subtask.
type Dispatcher interface {
	Dispatch(ctx context.Context, sub *models.Subtask) (*models.ToolResult, error)
}

// Outcome is the executor's verdict on one attempt.
type Outcome struct {
	// Result is the normalized tool output on success.
	Result *models.ToolResult
	// Err is the failure cause, nil on success.
	Err error
	// Class is the failure classification, meaningful when Err is set.
	Class Class
	// Retryable reports whether the subtask still has retry budget and the
	// failure class allows another attempt.
	Retryable bool
	// RetryAfter is the backoff delay before the next attempt.
	RetryAfter time.Duration
	// Elapsed is the attempt's wall-clock duration.
	Elapsed time.Duration
	// Skipped is set when the subtask was already terminal and nothing ran.
	Skipped bool
}

// Success reports whether the attempt produced a result.
func (o Outcome) Success() bool {
	return !o.Skipped && o.Err == nil
}

// Config bounds the executor's retry policy.
type Config struct {
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
}

// DefaultConfig returns the stock retry policy: three attempts, exponential
// backoff from 2s capped at 10s, 30s per attempt.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		BaseBackoff:    2 * time.Second,
		MaxBackoff:     10 * time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

// Executor wraps the dispatcher with the retry policy.
type Executor struct {
	dispatcher Dispatcher
	cfg        Config
}

// New creates an executor. Zero config fields fall back to defaults.
func New(dispatcher Dispatcher, cfg Config) *Executor {
	def := DefaultConfig()
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	return &Executor{dispatcher: dispatcher, cfg: cfg}
}

// MaxAttempts returns the configured attempt budget.
func (e *Executor) MaxAttempts() int {
	return e.cfg.MaxAttempts
}

// Execute runs one attempt for the subtask. A subtask already in a terminal
// status is skipped outright: no dispatch, no side effects. The attempt
// context is detached from caller cancellation so an in-flight tool call
// drains instead of aborting mid-request; the attempt timeout still bounds
// it.
func (e *Executor) Execute(ctx context.Context, sub *models.Subtask) Outcome {
	if sub.Status.Terminal() {
		return Outcome{Skipped: true}
	}

	attempt := sub.Attempts + 1

	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.AttemptTimeout)
	defer cancel()

	start := time.Now()
	result, err := e.dispatcher.Dispatch(attemptCtx, sub)
	elapsed := time.Since(start)

	if err == nil {
		log.Printf("[executor] subtask %d attempt %d/%d succeeded in %.2fs",
			sub.ID, attempt, e.cfg.MaxAttempts, elapsed.Seconds())
		return Outcome{Result: result, Elapsed: elapsed}
	}

	class := Classify(err)
	retryable := class == ClassTransient && attempt < e.cfg.MaxAttempts
	log.Printf("[executor] subtask %d attempt %d/%d failed (%s) in %.2fs: %v",
		sub.ID, attempt, e.cfg.MaxAttempts, class, elapsed.Seconds(), err)

	return Outcome{
		Err:        err,
		Class:      class,
		Retryable:  retryable,
		RetryAfter: e.Backoff(attempt),
		Elapsed:    elapsed,
	}
}

// Backoff returns the delay to wait after the given attempt number fails:
// the base doubling per attempt, capped.
func (e *Executor) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := e.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= e.cfg.MaxBackoff {
			return e.cfg.MaxBackoff
		}
	}
	if d > e.cfg.MaxBackoff {
		return e.cfg.MaxBackoff
	}
	return d
}
