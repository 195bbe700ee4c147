package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/lead-notifier/internal/retry"
	"github.com/example/lead-notifier/internal/retry/retrytest"
	"github.com/example/lead-notifier/internal/transport"
)

var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`)

type capture struct {
	mu      sync.Mutex
	bodies  [][]byte
	headers []http.Header
}

func (c *capture) add(r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies = append(c.bodies, body)
	c.headers = append(c.headers, r.Header.Clone())
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func statusServer(c *capture, statuses ...int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.add(r)
		n := c.count()
		status := statuses[len(statuses)-1]
		if n <= len(statuses) {
			status = statuses[n-1]
		}
		w.WriteHeader(status)
	}))
}

func newTestDispatcher(url, secret string, logger zerolog.Logger) (*Dispatcher, *retrytest.Timer) {
	timer := retrytest.NewTimer()
	d := NewDispatcher(Config{URL: url, Secret: secret, Policy: retry.DefaultPolicy()},
		transport.NewClient(nil), logger, retry.WithTimer(timer.Factory()))
	return d, timer
}

func sampleEvent() Event {
	return Event{
		Name: EventContactSubmissionCreated,
		Data: map[string]any{
			"id":    "0b6c",
			"name":  "Jan de Vries",
			"email": "jan@example.com",
			"tags":  []any{"a", "b"},
			"meta":  map[string]any{"source": "site", "score": float64(3)},
		},
	}
}

func TestDispatchSendsPayloadAndHeaders(t *testing.T) {
	c := &capture{}
	srv := statusServer(c, http.StatusOK)
	defer srv.Close()

	d, _ := newTestDispatcher(srv.URL, "s3cret", zerolog.Nop())
	d.now = func() time.Time { return time.Date(2026, 10, 18, 12, 30, 45, 123456789, time.FixedZone("CEST", 2*3600)) }
	ev := sampleEvent()
	d.Dispatch(context.Background(), ev)

	if c.count() != 1 {
		t.Fatalf("calls = %d, want 1", c.count())
	}
	h := c.headers[0]
	if h.Get(HeaderSecret) != "s3cret" || h.Get(HeaderEvent) != string(ev.Name) {
		t.Fatalf("unexpected headers %v", h)
	}
	if !strings.HasPrefix(h.Get("Content-Type"), "application/json") {
		t.Fatalf("content type = %q", h.Get("Content-Type"))
	}

	var got Payload
	if err := json.Unmarshal(c.bodies[0], &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.Event != ev.Name {
		t.Fatalf("event = %q", got.Event)
	}
	if !reflect.DeepEqual(got.Data, ev.Data) {
		t.Fatalf("data = %#v, want %#v", got.Data, ev.Data)
	}
	if !timestampPattern.MatchString(got.Timestamp) || got.Timestamp != "2026-10-18T10:30:45.123Z" {
		t.Fatalf("timestamp = %q", got.Timestamp)
	}
}

func TestDispatchNilDataBecomesObject(t *testing.T) {
	c := &capture{}
	srv := statusServer(c, http.StatusNoContent)
	defer srv.Close()

	d, _ := newTestDispatcher(srv.URL, "s3cret", zerolog.Nop())
	d.Dispatch(context.Background(), Event{Name: EventIntakeSubmissionCreated})
	if c.count() != 1 || !bytes.Contains(c.bodies[0], []byte(`"data":{}`)) {
		t.Fatalf("unexpected payload %s", c.bodies)
	}
}

func TestDispatchNeverPanics(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		wantCalls int
	}{
		{name: "not found", statuses: []int{http.StatusNotFound}, wantCalls: 1},
		{name: "server errors then success", statuses: []int{500, 500, 200}, wantCalls: 3},
		{name: "always unavailable", statuses: []int{http.StatusServiceUnavailable}, wantCalls: 3},
		{name: "rate limited", statuses: []int{http.StatusTooManyRequests, http.StatusAccepted}, wantCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &capture{}
			srv := statusServer(c, tt.statuses...)
			defer srv.Close()

			d, _ := newTestDispatcher(srv.URL, "s3cret", zerolog.Nop())
			d.Dispatch(context.Background(), sampleEvent())
			if c.count() != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", c.count(), tt.wantCalls)
			}
		})
	}
}

func TestDispatchRetrySchedule(t *testing.T) {
	c := &capture{}
	srv := statusServer(c, 500, 502, 200)
	defer srv.Close()

	d, timer := newTestDispatcher(srv.URL, "s3cret", zerolog.Nop())
	d.Dispatch(context.Background(), sampleEvent())
	want := []time.Duration{time.Second, 2 * time.Second}
	if got := timer.Delays(); !reflect.DeepEqual(got, want) {
		t.Fatalf("delays = %v, want %v", got, want)
	}
}

func TestDispatchNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	d, timer := newTestDispatcher(url, "s3cret", zerolog.Nop())
	d.Dispatch(context.Background(), sampleEvent())
	if len(timer.Delays()) != 2 {
		t.Fatalf("expected the full retry budget, delays = %v", timer.Delays())
	}
}

func TestDispatchIgnoresMalformedSuccessBody(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, "{not json")
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(srv.URL, "s3cret", zerolog.Nop())
	d.Dispatch(context.Background(), sampleEvent())
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestDispatchSurvivesPanickingLogger(t *testing.T) {
	c := &capture{}
	srv := statusServer(c, http.StatusOK)
	defer srv.Close()

	hook := zerolog.HookFunc(func(_ *zerolog.Event, _ zerolog.Level, msg string) {
		if msg == "webhook dispatched" || msg == "webhook dispatch aborted" {
			panic("log sink exploded")
		}
	})
	d, _ := newTestDispatcher(srv.URL, "s3cret", zerolog.New(io.Discard).Hook(hook))
	d.Dispatch(context.Background(), sampleEvent())
	if c.count() != 1 {
		t.Fatalf("calls = %d, want 1", c.count())
	}
}

func TestDispatchSkipsWhenNotConfigured(t *testing.T) {
	c := &capture{}
	srv := statusServer(c, http.StatusOK)
	defer srv.Close()

	tests := map[string]struct{ url, secret string }{
		"no url":    {"", "s3cret"},
		"blank url": {"   ", "s3cret"},
		"no secret": {srv.URL, ""},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			d, _ := newTestDispatcher(tt.url, tt.secret, zerolog.New(&buf))
			d.Dispatch(context.Background(), sampleEvent())
			if !strings.Contains(buf.String(), "webhook dispatch skipped") {
				t.Fatalf("expected skip log, got %s", buf.String())
			}
		})
	}
	if c.count() != 0 {
		t.Fatalf("calls = %d, want 0", c.count())
	}
}

func TestDispatchRejectsUnknownEvent(t *testing.T) {
	c := &capture{}
	srv := statusServer(c, http.StatusOK)
	defer srv.Close()

	var buf bytes.Buffer
	d, _ := newTestDispatcher(srv.URL, "s3cret", zerolog.New(&buf))
	d.Dispatch(context.Background(), Event{Name: "user.deleted"})
	if c.count() != 0 {
		t.Fatalf("calls = %d, want 0", c.count())
	}
	if !strings.Contains(buf.String(), "webhook dispatch failed") {
		t.Fatalf("expected failure log, got %s", buf.String())
	}
}

func TestGoAndWait(t *testing.T) {
	c := &capture{}
	srv := statusServer(c, http.StatusOK)
	defer srv.Close()

	d, _ := newTestDispatcher(srv.URL, "s3cret", zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 3; i++ {
		d.Go(ctx, sampleEvent())
	}
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := d.Wait(waitCtx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if c.count() != 3 {
		t.Fatalf("calls = %d, want 3", c.count())
	}
}

func TestWaitHonoursDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	d, _ := newTestDispatcher(srv.URL, "s3cret", zerolog.Nop())
	d.Go(context.Background(), sampleEvent())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Wait(ctx); err == nil {
		t.Fatalf("expected deadline error")
	}
}
