// Package rest is the typed client for the task-management REST surface used
// by the realtime core: notifications, conversations, messages, attachments.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskflow-client/internal/apierr"
	"taskflow-client/internal/observability"
)

const tracerName = "taskflow-client/rest"

// TokenSource supplies bearer tokens and the one-shot refresh used when a
// request comes back 401.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context, stale string) (string, error)
}

// Client issues authenticated REST calls.
type Client struct {
	baseURL string
	httpc   *http.Client
	tokens  TokenSource
	tracer  trace.Tracer
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpc = c }
}

// WithTracerProvider overrides the tracer provider (tests pass a recorder).
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cl *Client) { cl.tracer = tp.Tracer(tracerName) }
}

// New creates a REST client rooted at baseURL.
func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		tokens:  tokens,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do runs one call: span, bearer token, single refresh-and-retry on 401,
// status mapping, JSON decode into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, route string, query url.Values, body any, out any) error {
	ctx, span := c.tracer.Start(ctx, method+" "+route,
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
		))
	defer span.End()

	status, err := c.doOnce(ctx, method, route, query, body, out, false)
	if status == http.StatusUnauthorized {
		status, err = c.doOnce(ctx, method, route, query, body, out, true)
	}

	span.SetAttributes(attribute.Int("http.status_code", status))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) doOnce(ctx context.Context, method, route string, query url.Values, body any, out any, retried bool) (int, error) {
	op := method + " " + route

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return 0, err
	}
	if retried {
		if token, err = c.tokens.Refresh(ctx, token); err != nil {
			return 0, err
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	endpoint := c.baseURL + route
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		observability.ObserveRESTRequest(method, route, 0, time.Since(start))
		return 0, &apierr.TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	observability.ObserveRESTRequest(method, route, resp.StatusCode, time.Since(start))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		io.Copy(io.Discard, resp.Body)
		if retried {
			return resp.StatusCode, &apierr.AuthError{Op: op, Message: "unauthorized after refresh"}
		}
		return resp.StatusCode, &apierr.AuthError{Op: op, Message: "unauthorized"}
	case resp.StatusCode >= 400:
		detail := readDetail(resp.Body)
		return resp.StatusCode, &apierr.TransientError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("%s", detail)}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("%s: decode response: %w", op, err)
	}
	return resp.StatusCode, nil
}

// doRaw issues a request outside the JSON pipeline (multipart upload,
// streaming download) with the same bearer handling as do: one refresh and
// replay on 401. The body factory is invoked per attempt so the retry gets a
// fresh reader. On success the response is returned with its body open; the
// caller closes it.
func (c *Client) doRaw(ctx context.Context, method, route, contentType string, body func() io.Reader) (*http.Response, error) {
	op := method + " " + route

	retried := false
	for {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return nil, err
		}
		if retried {
			if token, err = c.tokens.Refresh(ctx, token); err != nil {
				return nil, err
			}
		}

		var reader io.Reader
		if body != nil {
			reader = body()
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+route, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		start := time.Now()
		resp, err := c.httpc.Do(req)
		if err != nil {
			observability.ObserveRESTRequest(method, route, 0, time.Since(start))
			return nil, &apierr.TransientError{Op: op, Err: err}
		}
		observability.ObserveRESTRequest(method, route, resp.StatusCode, time.Since(start))

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if retried {
				return nil, &apierr.AuthError{Op: op, Message: "unauthorized after refresh"}
			}
			retried = true
		case resp.StatusCode >= 400:
			detail := readDetail(resp.Body)
			resp.Body.Close()
			return nil, &apierr.TransientError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("%s", detail)}
		default:
			return resp, nil
		}
	}
}

func readDetail(r io.Reader) string {
	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Detail != "" {
			return payload.Detail
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return string(data)
}
