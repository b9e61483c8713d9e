package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/metrics"
)

const (
	PathGetCart       = "get-cart"
	PathAddToCart     = "add-to-cart"
	PathUpdateItem    = "update-cart-item"
	PathRemoveItem    = "remove-cart-item"
	PathSyncCart      = "sync-cart"
	PathApplyCoupon   = "apply-coupon"
	PathVerifyPayment = "verify-payment"

	defaultTimeout          = 10 * time.Second
	responseBodyReadLimit   = 1 << 20
	errorBodySnippetLimit   = 512
	unreachableMessage      = "Unable to reach the store right now. Please try again."
	unexpectedResponseError = "Unexpected response from the store."
)

var errBaseURLRequired = errors.New("backend base url is required")

// Credentials supplies the ambient access token for authenticated calls.
type Credentials interface {
	AccessToken(ctx context.Context) string
}

// Client calls the remote cart backend and normalizes its success and error
// shapes into typed errors.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	credentials Credentials
	metrics     *metrics.CartMetrics
	now         func() time.Time
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// WithCredentials sets the ambient token source.
func WithCredentials(credentials Credentials) Option {
	return func(c *Client) {
		c.credentials = credentials
	}
}

func WithMetrics(m *metrics.CartMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient builds a backend client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}

	client := &Client{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: defaultTimeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return client, nil
}

// StatusError carries a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

// envelope captures the fields the backend uses to signal logical failures.
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// resolveToken prefers an explicit token over the ambient credentials.
func (c *Client) resolveToken(ctx context.Context, explicit string, authenticated bool) string {
	if token := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(explicit), "Bearer ")); token != "" {
		return token
	}
	if !authenticated || c.credentials == nil {
		return ""
	}
	return c.credentials.AccessToken(ctx)
}

// do issues one JSON request. A 2xx body carrying success=false is reported
// as a validation failure with the server's message.
func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "cart backend client not configured")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("marshal %s request", path))
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("build %s request", path))
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := c.now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.ObserveGateway(path, "transport_error", c.now().Sub(start))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, unreachableMessage)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	c.metrics.ObserveGateway(path, strconv.Itoa(resp.StatusCode), c.now().Sub(start))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, unreachableMessage)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return statusFailure(path, resp.StatusCode, raw)
	}

	var env envelope
	if len(bytes.TrimSpace(raw)) > 0 && bytes.TrimSpace(raw)[0] == '{' {
		if err := json.Unmarshal(raw, &env); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, unexpectedResponseError)
		}
	}
	if env.Success != nil && !*env.Success {
		msg := firstMessage(env)
		if msg == "" {
			msg = "request was rejected"
		}
		return pkgerrors.New(pkgerrors.CodeValidation, msg)
	}

	if out == nil {
		return nil
	}
	payload := raw
	if trimmed := bytes.TrimSpace(env.Data); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		payload = trimmed
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, unexpectedResponseError)
	}
	return nil
}

func statusFailure(path string, status int, raw []byte) error {
	var env envelope
	_ = json.Unmarshal(raw, &env)

	msg := firstMessage(env)
	if msg == "" {
		msg = fmt.Sprintf("%s request failed", path)
		if status >= http.StatusInternalServerError {
			msg = unreachableMessage
		}
	}
	snippet := strings.TrimSpace(string(raw))
	if len(snippet) > errorBodySnippetLimit {
		snippet = snippet[:errorBodySnippetLimit]
	}
	return pkgerrors.Wrap(pkgerrors.CodeForStatus(status), &StatusError{StatusCode: status, Body: snippet}, msg)
}

// firstMessage returns the message field, or the error field when it is a
// string or an object with a message.
func firstMessage(env envelope) string {
	if msg := strings.TrimSpace(env.Message); msg != "" {
		return msg
	}
	if len(env.Error) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(env.Error, &text); err == nil {
		return strings.TrimSpace(text)
	}
	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Error, &nested); err == nil {
		return strings.TrimSpace(nested.Message)
	}
	return ""
}

func (c *Client) buildURL(path string) string {
	return fmt.Sprintf("%s/%s", c.baseURL, strings.TrimLeft(path, "/"))
}
