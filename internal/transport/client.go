// Package transport performs single, deadline-bounded HTTP calls. It never
// retries; retry policy lives in the retry package.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultMaxBodyBytes int64 = 1 << 20

type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	// Timeout bounds the whole call when set, in addition to any ctx deadline.
	Timeout time.Duration
	// ExpectJSON forces a JSON decode of the response body even when the
	// content type does not announce it.
	ExpectJSON bool
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// JSON holds the decoded body when it was JSON and parsed cleanly.
	JSON any
	// Text holds the raw body when it was not decoded as JSON.
	Text string
	// DecodeErr is set when a JSON body could not be parsed. It matches
	// ErrBodyTooLarge when the body was cut at the client's limit.
	DecodeErr error
	// Truncated is set when the body exceeded MaxBodyBytes.
	Truncated bool
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

type Client struct {
	HTTP         *http.Client
	MaxBodyBytes int64
}

// NewClient wraps httpClient. The client's own Timeout is left alone; callers
// should bound each call through ctx or Request.Timeout.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{HTTP: httpClient, MaxBodyBytes: defaultMaxBodyBytes}
}

// Do performs exactly one HTTP request. A non-2xx status is not an error here;
// errors are reserved for calls that produced no usable response.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, strings.TrimSpace(req.URL), bytes.NewReader(req.Body))
	if err != nil {
		return nil, &Error{Kind: KindRequest, Op: "build request", Err: err}
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(key, value)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, wrapCallError(ctx, "send request", err)
	}
	defer resp.Body.Close()

	limit := c.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, wrapCallError(ctx, "read response body", err)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       raw,
	}
	if int64(len(raw)) > limit {
		out.Body = raw[:limit]
		out.Truncated = true
	}
	decodeBody(out, req.ExpectJSON, limit)
	return out, nil
}

func decodeBody(resp *Response, expectJSON bool, limit int64) {
	isJSON := expectJSON || strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "application/json")
	trimmed := bytes.TrimSpace(resp.Body)
	if !isJSON || len(trimmed) == 0 {
		resp.Text = string(resp.Body)
		return
	}
	if resp.Truncated {
		resp.Text = string(resp.Body)
		resp.DecodeErr = fmt.Errorf("decode json response (status %d): %w: limit is %d bytes", resp.StatusCode, ErrBodyTooLarge, limit)
		return
	}
	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		resp.Text = string(resp.Body)
		resp.DecodeErr = fmt.Errorf("decode json response (status %d): %w", resp.StatusCode, err)
		return
	}
	resp.JSON = decoded
}

func wrapCallError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err) {
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindCanceled, Op: op, Err: err}
	}
	return &Error{Kind: KindConnection, Op: op, Err: err}
}

func isNetTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
