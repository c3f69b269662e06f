// Package remote is a thin REST client for a Directus-compatible API.
//
// The client itself holds no credentials. Every call takes a Credential
// describing what to send (bearer token, cookie header) and every Response
// reports the raw Set-Cookie lines the API returned so the caller can forward
// them unchanged.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/vango-dev/sessionbridge/pkg/remote"

// DefaultMaxResponseBytes caps how much of a response body is read.
const DefaultMaxResponseBytes int64 = 10 << 20

// Credential is what accompanies one upstream call.
type Credential struct {
	// Token is sent as a bearer token when non-empty.
	Token string

	// Cookie is sent as the Cookie header when non-empty.
	Cookie string
}

// Response describes a completed call.
type Response struct {
	Status     int
	SetCookies []string
}

// Client talks to the remote API.
type Client struct {
	baseURL  string
	http     *http.Client
	logger   *slog.Logger
	tracer   trace.Tracer
	maxBytes int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// WithTimeout sets the per-call timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.http = &http.Client{Timeout: d, Transport: cl.http.Transport}
		}
	}
}

// WithMaxResponseBytes overrides DefaultMaxResponseBytes.
func WithMaxResponseBytes(n int64) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.maxBytes = n
		}
	}
}

// New creates a client for the API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 15 * time.Second},
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		maxBytes: DefaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL }

// Do performs one call. body, when non-nil, is JSON-encoded unless it is an
// io.Reader, in which case contentType must be set. dest receives the "data"
// member of a 2xx response. A non-2xx response yields an *APIError.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any, cred Credential, dest any) (Response, error) {
	return c.do(ctx, method, path, query, body, "", cred, decodeData(dest))
}

// Upload performs a call with a raw body such as a multipart form.
func (c *Client) Upload(ctx context.Context, method, path string, body io.Reader, contentType string, cred Credential, dest any) (Response, error) {
	return c.do(ctx, method, path, nil, body, contentType, cred, decodeData(dest))
}

// decoder reads a 2xx body.
type decoder func(status int, body []byte) error

func decodeData(dest any) decoder {
	if dest == nil {
		return nil
	}
	return func(_ int, body []byte) error {
		if len(bytes.TrimSpace(body)) == 0 {
			return nil
		}
		var envelope struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return fmt.Errorf("remote: decode response: %w", err)
		}
		if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
			return nil
		}
		if err := json.Unmarshal(envelope.Data, dest); err != nil {
			return fmt.Errorf("remote: decode data: %w", err)
		}
		return nil
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, contentType string, cred Credential, decode decoder) (Response, error) {
	ctx, span := c.tracer.Start(ctx, "remote "+method+" "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("remote.path", path),
		),
	)
	defer span.End()

	resp, data, err := c.roundTrip(ctx, method, path, query, body, contentType, cred)
	if err == nil && decode != nil {
		err = decode(resp.Status, data)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.Status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

// roundTrip sends the request and returns the body of a 2xx response.
func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body any, contentType string, cred Credential) (Response, []byte, error) {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case io.Reader:
		reader = b
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return Response{}, nil, fmt.Errorf("remote: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return Response{}, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := strings.TrimSpace(cred.Token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if cred.Cookie != "" {
		req.Header.Set("Cookie", cred.Cookie)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	res, err := c.http.Do(req)
	if err != nil {
		return Response{}, nil, err
	}
	defer res.Body.Close()

	out := Response{Status: res.StatusCode, SetCookies: res.Header.Values("Set-Cookie")}

	data, err := io.ReadAll(io.LimitReader(res.Body, c.maxBytes+1))
	if err != nil {
		return out, nil, fmt.Errorf("remote: read response: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return out, nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, c.maxBytes)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		apiErr := parseAPIError(res.StatusCode, data)
		c.logger.Debug("remote call failed", "method", method, "path", path, "status", res.StatusCode, "error", apiErr)
		return out, nil, apiErr
	}
	return out, data, nil
}
