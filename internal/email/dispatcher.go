package email

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/lead-notifier/internal/common"
	"github.com/example/lead-notifier/internal/retry"
	"github.com/example/lead-notifier/internal/transport"
)

// Request is one staff notification. At least one of HTMLBody and TextBody
// must be set.
type Request struct {
	To       []string
	Sender   string
	Subject  string
	HTMLBody string
	TextBody string
}

type Config struct {
	APIKey       string
	Endpoint     string
	APIKeyHeader string
	Policy       retry.Policy
}

func ConfigFrom(cfg common.EmailConfig) Config {
	return Config{
		APIKey:       cfg.APIKey,
		Endpoint:     cfg.APIURL,
		APIKeyHeader: cfg.APIKeyHeader,
		Policy:       retry.PolicyFrom(cfg.Dispatch),
	}
}

type sendRequest struct {
	Sender   string   `json:"sender"`
	To       []string `json:"to"`
	Subject  string   `json:"subject"`
	HTMLBody string   `json:"html_body,omitempty"`
	TextBody string   `json:"text_body,omitempty"`
}

// Dispatcher delivers notifications through the transactional email
// provider. Unlike the webhook dispatcher, every failure is returned.
type Dispatcher struct {
	cfg    Config
	client *transport.Client
	engine *retry.Engine
	logger zerolog.Logger
}

func NewDispatcher(cfg Config, client *transport.Client, logger zerolog.Logger, opts ...retry.Option) *Dispatcher {
	if cfg.Endpoint == "" {
		cfg.Endpoint = common.DefaultEmailAPIURL
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = common.DefaultEmailAPIKeyHeader
	}
	if client == nil {
		client = transport.NewClient(nil)
	}
	logger = logger.With().Str("component", "email").Logger()
	return &Dispatcher{
		cfg:    cfg,
		client: client,
		engine: retry.New("email", cfg.Policy, logger, opts...),
		logger: logger,
	}
}

// SendEmail validates req and delivers it, retrying transient failures.
// It returns *ConfigurationError, *ValidationError or *DeliveryError.
func (d *Dispatcher) SendEmail(ctx context.Context, req Request) error {
	if strings.TrimSpace(d.cfg.APIKey) == "" {
		return &ConfigurationError{Setting: "EMAIL_API_KEY"}
	}
	if err := req.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(sendRequest{
		Sender:   req.Sender,
		To:       req.To,
		Subject:  req.Subject,
		HTMLBody: req.HTMLBody,
		TextBody: req.TextBody,
	})
	if err != nil {
		return &ValidationError{Field: "request", Reason: err.Error()}
	}

	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	headers[d.cfg.APIKeyHeader] = d.cfg.APIKey
	httpReq := transport.Request{
		Method:     http.MethodPost,
		URL:        d.cfg.Endpoint,
		Headers:    headers,
		Body:       body,
		ExpectJSON: true,
	}
	send := func(ctx context.Context) (*transport.Response, error) {
		return d.client.Do(ctx, httpReq)
	}

	res := d.engine.Run(ctx, send, classify)
	logger := common.WithContext(ctx, d.logger)
	if failure := res.Failure(); failure != nil {
		derr := newDeliveryError(failure)
		logger.Error().Err(derr).
			Int("attempts", res.Attempts).
			Int("status", res.Outcome.StatusCode).
			Int("recipients", len(req.To)).
			Msg("email delivery failed")
		return derr
	}

	logger.Info().
		Str("request_id", res.Outcome.MessageID).
		Int("attempts", res.Attempts).
		Int("recipients", len(req.To)).
		Msg("email sent")
	return nil
}

// Validate checks the request shape without touching the network.
func (r Request) Validate() error {
	if len(r.To) == 0 {
		return &ValidationError{Field: "to", Reason: "at least one recipient is required"}
	}
	for _, addr := range r.To {
		if strings.TrimSpace(addr) == "" {
			return &ValidationError{Field: "to", Reason: "recipient address must not be empty"}
		}
	}
	if strings.TrimSpace(r.Sender) == "" {
		return &ValidationError{Field: "sender", Reason: "sender address is required"}
	}
	if strings.TrimSpace(r.Subject) == "" {
		return &ValidationError{Field: "subject", Reason: "subject is required"}
	}
	if r.HTMLBody == "" && r.TextBody == "" {
		return &ValidationError{Field: "body", Reason: "at least one of html or text body is required"}
	}
	return nil
}
