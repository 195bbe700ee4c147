// Package retry runs a send function under a bounded exponential backoff
// schedule. It is shared by the email and webhook dispatchers, which differ
// only in how they classify responses and how they report the result.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/example/lead-notifier/internal/common"
	"github.com/example/lead-notifier/internal/transport"
)

var (
	attemptCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_attempts_total",
		Help: "Outbound dispatch attempts by channel and classified outcome",
	}, []string{"channel", "category"})
	attemptLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_attempt_duration_seconds",
		Help:    "Latency of single outbound dispatch attempts",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel"})
	resultCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_results_total",
		Help: "Final outcome of outbound dispatches",
	}, []string{"channel", "result"})
)

// Policy bounds one dispatch. Delay before attempt n+1 is BaseDelay*2^(n-1).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Timeout     time.Duration
}

func PolicyFrom(cfg common.DispatchConfig) Policy {
	return Policy{MaxAttempts: cfg.MaxAttempts, BaseDelay: cfg.BaseDelay, Timeout: cfg.Timeout}
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: common.DefaultMaxAttempts,
		BaseDelay:   common.DefaultRetryBaseDelay,
		Timeout:     common.DefaultAttemptTimeout,
	}
}

// SendFunc performs a single transport call.
type SendFunc func(ctx context.Context) (*transport.Response, error)

// ClassifyFunc turns the result of a SendFunc into an Outcome. It must be pure.
type ClassifyFunc func(resp *transport.Response, err error) Outcome

type Result struct {
	Outcome  Outcome
	Attempts int
}

func (r Result) Succeeded() bool {
	return r.Attempts > 0 && r.Outcome.Category == Success
}

// Err returns nil on success and a *Error otherwise.
func (r Result) Err() error {
	if f := r.Failure(); f != nil {
		return f
	}
	return nil
}

// Failure describes a failed run, or is nil on success.
func (r Result) Failure() *Error {
	if r.Succeeded() {
		return nil
	}
	return &Error{
		Outcome:   r.Outcome,
		Attempts:  r.Attempts,
		Exhausted: r.Outcome.Category == Retryable,
	}
}

type Option func(*Engine)

// WithTimer replaces the timer used to wait between attempts.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(e *Engine) { e.newTimer = newTimer }
}

type Engine struct {
	channel  string
	policy   Policy
	logger   zerolog.Logger
	newTimer func() backoff.Timer
}

// New returns an engine for channel, which names the dispatcher in logs,
// metrics and spans.
func New(channel string, policy Policy, logger zerolog.Logger, opts ...Option) *Engine {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	e := &Engine{
		channel: channel,
		policy:  policy,
		logger:  logger.With().Str("channel", channel).Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Policy() Policy { return e.policy }

// Run calls send until it succeeds, fails terminally, or the attempt budget is
// spent. Each attempt gets its own timeout; a timeout only ends that attempt.
func (e *Engine) Run(ctx context.Context, send SendFunc, classify ClassifyFunc) Result {
	ctx, span := otel.Tracer("dispatch").Start(ctx, "dispatch."+e.channel)
	defer span.End()
	logger := common.WithContext(ctx, e.logger)

	var (
		last     Outcome
		attempts int
	)
	operation := func() error {
		attempts++
		last = e.attempt(ctx, send, classify)

		attemptCounter.WithLabelValues(e.channel, last.Category.String()).Inc()
		event := logger.Debug()
		if last.Category != Success {
			event = logger.Warn()
		}
		event.Int("attempt", attempts).
			Int("max_attempts", e.policy.MaxAttempts).
			Str("category", last.Category.String()).
			Int("status", last.StatusCode).
			Str("reason", last.Reason).
			Msg("dispatch attempt finished")

		switch last.Category {
		case Success:
			return nil
		case Terminal:
			return backoff.Permanent(attemptError{last})
		default:
			return attemptError{last}
		}
	}

	var timer backoff.Timer
	if e.newTimer != nil {
		timer = e.newTimer()
	}
	notify := func(_ error, delay time.Duration) {
		logger.Info().Int("next_attempt", attempts+1).Dur("delay", delay).Msg("retrying dispatch")
	}
	_ = backoff.RetryNotifyWithTimer(operation, e.schedule(ctx), notify, timer)

	res := Result{Outcome: last, Attempts: attempts}
	span.SetAttributes(
		attribute.Int("dispatch.attempts", attempts),
		attribute.String("dispatch.category", last.Category.String()),
	)
	if err := res.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, last.Category.String())
		resultCounter.WithLabelValues(e.channel, "failed").Inc()
	} else {
		resultCounter.WithLabelValues(e.channel, "delivered").Inc()
	}
	return res
}

func (e *Engine) attempt(ctx context.Context, send SendFunc, classify ClassifyFunc) Outcome {
	attemptCtx := ctx
	if e.policy.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, e.policy.Timeout)
		defer cancel()
	}
	start := time.Now()
	resp, err := send(attemptCtx)
	attemptLatency.WithLabelValues(e.channel).Observe(time.Since(start).Seconds())
	return classify(resp, err)
}

func (e *Engine) schedule(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.policy.BaseDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = maxInterval(e.policy.BaseDelay, e.policy.MaxAttempts)
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithMaxRetries(backoff.WithContext(exp, ctx), uint64(e.policy.MaxAttempts-1))
}

// maxInterval is base*2^attempts, saturating at the largest Duration.
func maxInterval(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempts; i++ {
		if d > math.MaxInt64/2 {
			return math.MaxInt64
		}
		d *= 2
	}
	return d
}

type attemptError struct{ outcome Outcome }

func (e attemptError) Error() string { return e.outcome.Reason }
