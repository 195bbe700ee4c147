package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

const validDelivery = `{"event":"intake_submission.created","timestamp":"2026-10-18T10:30:45.123Z","data":{"id":"abc","name":"Jan"}}`

func deliver(t *testing.T, h http.Handler, secret, event, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/hooks", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(HeaderSecret, secret)
	}
	if event != "" {
		req.Header.Set(HeaderEvent, event)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestReceiverForwardsToKafka(t *testing.T) {
	w := &fakeWriter{}
	r := &Receiver{Secret: "s3cret", Producer: w, Logger: zerolog.Nop()}

	rec := deliver(t, r.Router(), "s3cret", string(EventIntakeSubmissionCreated), validDelivery)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != string(EventIntakeSubmissionCreated) {
		t.Fatalf("key = %s", msg.Key)
	}
	var fwd ForwardedEvent
	if err := json.Unmarshal(msg.Value, &fwd); err != nil {
		t.Fatalf("value is not JSON: %v", err)
	}
	if fwd.Event != EventIntakeSubmissionCreated || fwd.Timestamp != "2026-10-18T10:30:45.123Z" || fwd.Data["name"] != "Jan" {
		t.Fatalf("unexpected forwarded event %+v", fwd)
	}
	if fwd.ReceivedAt.IsZero() || fwd.RequestID == "" {
		t.Fatalf("receiver metadata missing: %+v", fwd)
	}
}

func TestReceiverRejects(t *testing.T) {
	contact := string(EventContactSubmissionCreated)
	intake := string(EventIntakeSubmissionCreated)
	tests := []struct {
		name   string
		secret string
		event  string
		body   string
		want   int
	}{
		{"missing secret", "", intake, validDelivery, http.StatusUnauthorized},
		{"wrong secret", "nope", intake, validDelivery, http.StatusUnauthorized},
		{"missing event", "s3cret", "", validDelivery, http.StatusBadRequest},
		{"unknown event", "s3cret", "user.deleted", validDelivery, http.StatusBadRequest},
		{"header mismatch", "s3cret", contact, validDelivery, http.StatusBadRequest},
		{"bad json", "s3cret", intake, "{", http.StatusBadRequest},
		{"bad timestamp", "s3cret", intake, `{"event":"intake_submission.created","timestamp":"yesterday","data":{}}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWriter{}
			r := &Receiver{Secret: "s3cret", Producer: w, Logger: zerolog.Nop()}
			rec := deliver(t, r.Router(), tt.secret, tt.event, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if len(w.msgs) != 0 {
				t.Fatalf("rejected delivery was forwarded")
			}
		})
	}
}

func TestReceiverProducerFailureIsRetryable(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	r := &Receiver{Secret: "s3cret", Producer: w, Logger: zerolog.Nop()}

	rec := deliver(t, r.Router(), "s3cret", string(EventIntakeSubmissionCreated), validDelivery)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestReceiverRequiresConfiguredSecret(t *testing.T) {
	r := &Receiver{Producer: &fakeWriter{}, Logger: zerolog.Nop()}
	rec := deliver(t, r.Router(), "", string(EventIntakeSubmissionCreated), validDelivery)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
