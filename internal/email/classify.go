package email

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/example/lead-notifier/internal/retry"
	"github.com/example/lead-notifier/internal/transport"
)

type providerResponse struct {
	Data *struct {
		Succeeded int                `json:"succeeded"`
		Failed    int                `json:"failed"`
		Failures  []recipientFailure `json:"failures,omitempty"`
	} `json:"data"`
	RequestID string `json:"request_id,omitempty"`
}

type recipientFailure struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// classify applies the provider contract on top of the status rules: a 2xx
// must carry a well formed JSON report, and any per-recipient failure in it
// is terminal because resending to a rejected address cannot succeed.
func classify(resp *transport.Response, err error) retry.Outcome {
	if err != nil {
		return retry.FromTransportError(err)
	}
	if !resp.OK() {
		return retry.FromStatus("email provider", resp)
	}

	if errors.Is(resp.DecodeErr, transport.ErrBodyTooLarge) {
		return retry.Failed(retry.Terminal, resp.StatusCode,
			fmt.Sprintf("email provider response too large to verify (status %d): %v", resp.StatusCode, resp.DecodeErr), resp.Body)
	}
	if resp.DecodeErr != nil || resp.JSON == nil {
		return retry.Failed(retry.Terminal, resp.StatusCode,
			fmt.Sprintf("invalid JSON response from email provider (status %d)", resp.StatusCode), resp.Body)
	}
	var report providerResponse
	if err := json.Unmarshal(resp.Body, &report); err != nil || report.Data == nil {
		return retry.Failed(retry.Terminal, resp.StatusCode,
			fmt.Sprintf("unexpected response shape from email provider (status %d)", resp.StatusCode), resp.Body)
	}
	if report.Data.Failed > 0 {
		details := make([]string, 0, len(report.Data.Failures))
		for _, f := range report.Data.Failures {
			details = append(details, f.Email+": "+f.Error)
		}
		return retry.Failed(retry.Terminal, resp.StatusCode,
			fmt.Sprintf("email provider reported %d failed recipient(s): %s", report.Data.Failed, strings.Join(details, ", ")),
			resp.Body)
	}
	return retry.Succeeded(resp.StatusCode, report.RequestID)
}
