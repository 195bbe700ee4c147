package forms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/lead-notifier/internal/common"
	"github.com/example/lead-notifier/internal/email"
	"github.com/example/lead-notifier/internal/webhook"
)

const (
	formContact = "contact"
	formIntake  = "intake"

	maxBodyBytes = 64 << 10

	submissionFailedMessage = "Verzenden mislukt. Probeer het later opnieuw."
)

var (
	reqCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "form_submissions_total",
		Help: "Form submissions by form and result",
	}, []string{"form", "status"})
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "form_submission_duration_seconds",
		Help:    "Latency of form submissions including notification delivery",
		Buckets: prometheus.DefBuckets,
	}, []string{"form"})
)

// EmailSender is satisfied by *email.Dispatcher.
type EmailSender interface {
	SendEmail(ctx context.Context, req email.Request) error
}

// EventDispatcher is satisfied by *webhook.Dispatcher. Go must not block on
// delivery and has no failure to report.
type EventDispatcher interface {
	Go(ctx context.Context, ev webhook.Event)
}

// Notification addresses used for staff emails.
type Notification struct {
	Sender     string
	Recipients []string
}

// RateLimit wraps a form route; nil means unlimited.
type RateLimit func(limit int) func(http.Handler) http.Handler

type Limits struct {
	Contact int
	Intake  int
}

type Handler struct {
	repo     SubmissionRepository
	mailer   EmailSender
	events   EventDispatcher
	notify   Notification
	tracer   trace.Tracer
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() string
	limiter  RateLimit
	limits   Limits
	corsFunc func(http.Handler) http.Handler

	// trustProxy lets X-Forwarded-For and friends replace the socket
	// address. Only safe behind a proxy that overwrites those headers.
	trustProxy bool
}

type Option func(*Handler)

func WithRateLimit(limiter RateLimit, limits Limits) Option {
	return func(h *Handler) {
		h.limiter = limiter
		h.limits = limits
	}
}

func WithCORS(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) { h.corsFunc = mw }
}

// WithTrustProxy takes the client address from proxy headers.
func WithTrustProxy() Option {
	return func(h *Handler) { h.trustProxy = true }
}

func NewHandler(repo SubmissionRepository, mailer EmailSender, events EventDispatcher, notify Notification, logger zerolog.Logger, opts ...Option) *Handler {
	h := &Handler{
		repo:   repo,
		mailer: mailer,
		events: events,
		notify: notify,
		tracer: otel.Tracer("forms"),
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if h.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	if h.corsFunc != nil {
		r.Use(h.corsFunc)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.With(h.limit(h.limits.Contact)).Post("/api/contact-submissions", h.createContact)
	r.With(h.limit(h.limits.Intake)).Post("/api/intake-submissions", h.createIntake)
	return r
}

func (h *Handler) limit(n int) func(http.Handler) http.Handler {
	if h.limiter == nil || n <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return h.limiter(n)
}

type envelope[T any] struct {
	Data *T `json:"data"`
}

func (h *Handler) createContact(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "contact-submission")
	defer span.End()
	start := time.Now()
	defer func() { requestLatency.WithLabelValues(formContact).Observe(time.Since(start).Seconds()) }()

	var body envelope[ContactRequest]
	if err := decode(w, r, &body); err != nil {
		h.respondErr(ctx, w, formContact, http.StatusBadRequest, "ValidationError", err)
		return
	}
	req := normalizeContact(*body.Data)
	if err := validateContact(req); err != nil {
		h.respondErr(ctx, w, formContact, http.StatusBadRequest, "ValidationError", err)
		return
	}

	saved, err := h.repo.CreateContact(ctx, ContactSubmission{
		ID:        h.newID(),
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Message:   req.Message,
		CreatedAt: h.now().UTC(),
	})
	if err != nil {
		h.respondErr(ctx, w, formContact, http.StatusInternalServerError, "InternalServerError", err)
		return
	}
	span.SetAttributes(attribute.String("submission.id", saved.ID))

	rendered, err := ContactNotification(saved)
	if err != nil {
		h.respondErr(ctx, w, formContact, http.StatusInternalServerError, "InternalServerError", err)
		return
	}
	if err := h.sendNotification(ctx, rendered, saved.Email); err != nil {
		span.RecordError(err)
		h.respondErr(ctx, w, formContact, http.StatusBadGateway, "SubmissionFailed", err)
		return
	}

	h.events.Go(ctx, webhook.Event{Name: webhook.EventContactSubmissionCreated, Data: contactEventData(saved)})
	reqCounter.WithLabelValues(formContact, "created").Inc()
	writeJSON(w, http.StatusCreated, envelope[ContactSubmission]{Data: &saved})
}

func (h *Handler) createIntake(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "intake-submission")
	defer span.End()
	start := time.Now()
	defer func() { requestLatency.WithLabelValues(formIntake).Observe(time.Since(start).Seconds()) }()

	var body envelope[IntakeRequest]
	if err := decode(w, r, &body); err != nil {
		h.respondErr(ctx, w, formIntake, http.StatusBadRequest, "ValidationError", err)
		return
	}
	req := normalizeIntake(*body.Data)
	if err := validateIntake(req); err != nil {
		h.respondErr(ctx, w, formIntake, http.StatusBadRequest, "ValidationError", err)
		return
	}

	saved, err := h.repo.CreateIntake(ctx, IntakeSubmission{
		ID:          h.newID(),
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		CompanyName: req.CompanyName,
		ServiceType: req.ServiceType,
		Message:     req.Message,
		CreatedAt:   h.now().UTC(),
	})
	if err != nil {
		h.respondErr(ctx, w, formIntake, http.StatusInternalServerError, "InternalServerError", err)
		return
	}
	span.SetAttributes(attribute.String("submission.id", saved.ID))

	rendered, err := IntakeNotification(saved)
	if err != nil {
		h.respondErr(ctx, w, formIntake, http.StatusInternalServerError, "InternalServerError", err)
		return
	}
	if err := h.sendNotification(ctx, rendered, saved.Email); err != nil {
		span.RecordError(err)
		h.respondErr(ctx, w, formIntake, http.StatusBadGateway, "SubmissionFailed", err)
		return
	}

	h.events.Go(ctx, webhook.Event{Name: webhook.EventIntakeSubmissionCreated, Data: intakeEventData(saved)})
	reqCounter.WithLabelValues(formIntake, "created").Inc()
	writeJSON(w, http.StatusCreated, envelope[IntakeSubmission]{Data: &saved})
}

func (h *Handler) sendNotification(ctx context.Context, n Rendered, submitter string) error {
	err := h.mailer.SendEmail(ctx, email.Request{
		To:       h.notify.Recipients,
		Sender:   h.notify.Sender,
		Subject:  n.Subject,
		HTMLBody: n.HTMLBody,
		TextBody: n.TextBody,
	})
	if err != nil {
		return fmt.Errorf("notify staff of submission from %s: %w", submitter, err)
	}
	return nil
}

func decode[T any](w http.ResponseWriter, r *http.Request, dst *envelope[T]) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dst.Data == nil {
		return errors.New("request body must contain a data object")
	}
	return nil
}

func normalizeContact(req ContactRequest) ContactRequest {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Message = strings.TrimSpace(req.Message)
	return req
}

func normalizeIntake(req IntakeRequest) IntakeRequest {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	req.CompanyName = strings.TrimSpace(req.CompanyName)
	req.Message = strings.TrimSpace(req.Message)
	return req
}

func validateContact(req ContactRequest) error {
	if req.Name == "" {
		return errors.New("name is required")
	}
	if err := validateEmail(req.Email); err != nil {
		return err
	}
	if req.Message == "" {
		return errors.New("message is required")
	}
	return nil
}

func validateIntake(req IntakeRequest) error {
	if req.Name == "" {
		return errors.New("name is required")
	}
	if err := validateEmail(req.Email); err != nil {
		return err
	}
	if req.ServiceType != "" && !req.ServiceType.Valid() {
		return fmt.Errorf("unknown service_type %q", req.ServiceType)
	}
	return nil
}

func validateEmail(addr string) error {
	if addr == "" {
		return errors.New("email is required")
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return errors.New("email is not a valid address")
	}
	return nil
}

func contactEventData(s ContactSubmission) map[string]any {
	data := map[string]any{
		"id":        s.ID,
		"name":      s.Name,
		"email":     s.Email,
		"message":   s.Message,
		"createdAt": s.CreatedAt.Format(time.RFC3339),
	}
	if s.Phone != "" {
		data["phone"] = s.Phone
	}
	return data
}

func intakeEventData(s IntakeSubmission) map[string]any {
	data := map[string]any{
		"id":        s.ID,
		"name":      s.Name,
		"email":     s.Email,
		"createdAt": s.CreatedAt.Format(time.RFC3339),
	}
	optional := map[string]string{
		"phone":        s.Phone,
		"company_name": s.CompanyName,
		"service_type": string(s.ServiceType),
		"message":      s.Message,
	}
	for k, v := range optional {
		if v != "" {
			data[k] = v
		}
	}
	return data
}

func (h *Handler) respondErr(ctx context.Context, w http.ResponseWriter, form string, status int, name string, err error) {
	logger := common.WithContext(ctx, h.logger)
	logger.Error().Err(err).Int("status", status).Str("form", form).Msg("form submission failed")
	reqCounter.WithLabelValues(form, http.StatusText(status)).Inc()

	message := err.Error()
	if status >= 500 {
		message = submissionFailedMessage
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"status":  status,
			"name":    name,
			"message": message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
