package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/lead-notifier/internal/common"
)

const maxReceiverBody = 1 << 20

var receivedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "webhook_received_total",
	Help: "Webhook deliveries accepted or rejected by the receiver",
}, []string{"event", "status"})

// MessageWriter is the subset of *kafka.Writer the receiver needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Receiver is the downstream end of Dispatcher: it authenticates deliveries
// with the shared secret and forwards them to Kafka for automation consumers.
type Receiver struct {
	Secret   string
	Producer MessageWriter
	Logger   zerolog.Logger
}

// ForwardedEvent is the Kafka message value.
type ForwardedEvent struct {
	Event      EventName      `json:"event"`
	Timestamp  string         `json:"timestamp"`
	Data       map[string]any `json:"data"`
	ReceivedAt time.Time      `json:"received_at"`
	RequestID  string         `json:"request_id,omitempty"`
}

func (s *Receiver) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post("/v1/hooks", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	return r
}

func (s *Receiver) handle(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("webhook-receiver").Start(r.Context(), "receive-webhook")
	defer span.End()

	if s.Secret == "" || subtle.ConstantTimeCompare([]byte(r.Header.Get(HeaderSecret)), []byte(s.Secret)) != 1 {
		s.respondErr(ctx, w, "unknown", http.StatusUnauthorized, errors.New("invalid webhook secret"))
		return
	}
	name := EventName(r.Header.Get(HeaderEvent))
	if !name.Valid() {
		s.respondErr(ctx, w, "unknown", http.StatusBadRequest, errors.New("unknown or missing webhook event header"))
		return
	}

	var payload Payload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxReceiverBody)).Decode(&payload); err != nil {
		s.respondErr(ctx, w, string(name), http.StatusBadRequest, err)
		return
	}
	if payload.Event != name {
		s.respondErr(ctx, w, string(name), http.StatusBadRequest, errors.New("event header does not match payload"))
		return
	}
	if _, err := time.Parse(TimestampFormat, payload.Timestamp); err != nil {
		s.respondErr(ctx, w, string(name), http.StatusBadRequest, errors.New("invalid payload timestamp"))
		return
	}
	span.SetAttributes(attribute.String("webhook.event", string(name)))

	body, err := json.Marshal(ForwardedEvent{
		Event:      payload.Event,
		Timestamp:  payload.Timestamp,
		Data:       payload.Data,
		ReceivedAt: time.Now().UTC(),
		RequestID:  middleware.GetReqID(ctx),
	})
	if err != nil {
		s.respondErr(ctx, w, string(name), http.StatusInternalServerError, err)
		return
	}

	if err := s.Producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(name),
		Value: body,
	}); err != nil {
		// 503 lets the dispatcher retry the delivery.
		s.respondErr(ctx, w, string(name), http.StatusServiceUnavailable, err)
		return
	}

	receivedCounter.WithLabelValues(string(name), "accepted").Inc()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Receiver) respondErr(ctx context.Context, w http.ResponseWriter, event string, status int, err error) {
	logger := common.WithContext(ctx, s.Logger)
	logger.Error().Err(err).Int("status", status).Str("event", event).Msg("webhook receiver error")
	receivedCounter.WithLabelValues(event, "rejected").Inc()
	http.Error(w, err.Error(), status)
}
