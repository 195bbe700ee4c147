package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/lead-notifier/internal/common"
	"github.com/example/lead-notifier/internal/retry"
	"github.com/example/lead-notifier/internal/transport"
)

const (
	HeaderSecret = "X-Webhook-Secret"
	HeaderEvent  = "X-Webhook-Event"

	// TimestampFormat is ISO-8601 in UTC with millisecond precision.
	TimestampFormat = "2006-01-02T15:04:05.000Z"
)

type EventName string

const (
	EventContactSubmissionCreated EventName = "contact_submission.created"
	EventIntakeSubmissionCreated  EventName = "intake_submission.created"
)

func (n EventName) Valid() bool {
	switch n {
	case EventContactSubmissionCreated, EventIntakeSubmissionCreated:
		return true
	}
	return false
}

type Event struct {
	Name EventName
	Data map[string]any
}

// Payload is the JSON body posted to the receiver.
type Payload struct {
	Event     EventName      `json:"event"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

type Config struct {
	URL    string
	Secret string
	Policy retry.Policy
}

func ConfigFrom(cfg common.WebhookConfig) Config {
	return Config{URL: cfg.URL, Secret: cfg.Secret, Policy: retry.PolicyFrom(cfg.Dispatch)}
}

// Dispatcher forwards submission events to the operator's automation
// endpoint. Webhooks are optional: nothing it does is ever reported back to
// the caller, failures end up in the log only.
type Dispatcher struct {
	cfg    Config
	client *transport.Client
	engine *retry.Engine
	logger zerolog.Logger
	now    func() time.Time

	inflight sync.WaitGroup
}

func NewDispatcher(cfg Config, client *transport.Client, logger zerolog.Logger, opts ...retry.Option) *Dispatcher {
	if client == nil {
		client = transport.NewClient(nil)
	}
	logger = logger.With().Str("component", "webhook").Logger()
	return &Dispatcher{
		cfg:    cfg,
		client: client,
		engine: retry.New("webhook", cfg.Policy, logger, opts...),
		logger: logger,
		now:    time.Now,
	}
}

// Dispatch delivers ev with retries and returns once the sequence is over.
// It never panics and has no error to return.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logRecovered(ev, r)
		}
	}()
	if err := d.dispatch(ctx, ev); err != nil {
		logger := common.WithContext(ctx, d.logger)
		logger.Warn().Err(err).
			Str("event", string(ev.Name)).
			Msg("webhook dispatch failed")
	}
}

// Go runs Dispatch in the background, detached from ctx cancellation so the
// request that triggered it can finish first. Use Wait to drain at shutdown.
func (d *Dispatcher) Go(ctx context.Context, ev Event) {
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		d.Dispatch(context.WithoutCancel(ctx), ev)
	}()
}

// Wait blocks until background dispatches finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ev Event) error {
	logger := common.WithContext(ctx, d.logger)
	if strings.TrimSpace(d.cfg.URL) == "" {
		logger.Info().Str("event", string(ev.Name)).Msg("webhook dispatch skipped: WEBHOOK_URL is not configured")
		return nil
	}
	if d.cfg.Secret == "" {
		logger.Warn().Str("event", string(ev.Name)).Msg("webhook dispatch skipped: WEBHOOK_SECRET is not configured")
		return nil
	}
	if !ev.Name.Valid() {
		return fmt.Errorf("unknown webhook event %q", ev.Name)
	}

	body, err := d.encode(ev)
	if err != nil {
		return err
	}
	req := transport.Request{
		Method: http.MethodPost,
		URL:    d.cfg.URL,
		Headers: map[string]string{
			"Content-Type": "application/json",
			HeaderSecret:   d.cfg.Secret,
			HeaderEvent:    string(ev.Name),
		},
		Body: body,
	}
	send := func(ctx context.Context) (*transport.Response, error) {
		return d.client.Do(ctx, req)
	}

	res := d.engine.Run(ctx, send, classify)
	if err := res.Err(); err != nil {
		return err
	}
	logger.Info().
		Str("event", string(ev.Name)).
		Int("attempts", res.Attempts).
		Int("status", res.Outcome.StatusCode).
		Msg("webhook dispatched")
	return nil
}

func (d *Dispatcher) encode(ev Event) ([]byte, error) {
	data := ev.Data
	if data == nil {
		data = map[string]any{}
	}
	body, err := json.Marshal(Payload{
		Event:     ev.Name,
		Timestamp: d.now().UTC().Format(TimestampFormat),
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("encode webhook payload: %w", err)
	}
	return body, nil
}

// logRecovered must not panic itself, so it carries its own guard.
func (d *Dispatcher) logRecovered(ev Event, r any) {
	defer func() { _ = recover() }()
	d.logger.Warn().
		Str("event", string(ev.Name)).
		Str("panic", fmt.Sprint(r)).
		Msg("webhook dispatch aborted")
}

// classify accepts any 2xx: receivers are not required to answer with a
// structured body.
func classify(resp *transport.Response, err error) retry.Outcome {
	if err != nil {
		return retry.FromTransportError(err)
	}
	if resp.OK() {
		return retry.Succeeded(resp.StatusCode, "")
	}
	return retry.FromStatus("webhook endpoint", resp)
}
