// Package frappe implements the erp ports against the Frappe REST API.
package frappe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-invoice/internal/erp"
)

// DefaultAppModule is the dotted path of the custom invoice doctype controller.
const DefaultAppModule = "my_custom_app.my_custom_app.doctype.custom_sales_invoice.custom_sales_invoice"

// Config configures the Frappe client.
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	AppModule string
	Timeout   time.Duration
}

// Client wraps calls to a Frappe site.
type Client struct {
	baseURL    string
	auth       string
	module     string
	httpClient *http.Client
}

// NewClient constructs a new client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	module := cfg.AppModule
	if module == "" {
		module = DefaultAppModule
	}
	var auth string
	if cfg.APIKey != "" {
		auth = fmt.Sprintf("token %s:%s", cfg.APIKey, cfg.APISecret)
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		auth:    auth,
		module:  module,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

var _ erp.Client = (*Client)(nil)
var _ erp.Customers = (*Client)(nil)

// RemoteError describes a failed Frappe response.
type RemoteError struct {
	Status  int
	ExcType string
	Message string
}

func (e *RemoteError) Error() string {
	if e.ExcType != "" {
		return fmt.Sprintf("frappe: %s (status %d): %s", e.ExcType, e.Status, e.Message)
	}
	return fmt.Sprintf("frappe: status %d: %s", e.Status, e.Message)
}

// Unwrap ties every remote failure to erp.ErrRemote.
func (e *RemoteError) Unwrap() error {
	return erp.ErrRemote
}

// Is matches erp.ErrNotFound for missing documents.
func (e *RemoteError) Is(target error) bool {
	return target == erp.ErrNotFound && e.NotFound()
}

// NotFound reports whether the server answered with DoesNotExistError.
func (e *RemoteError) NotFound() bool {
	return e.ExcType == "DoesNotExistError" || e.Status == http.StatusNotFound
}

type envelope struct {
	Message        json.RawMessage `json:"message"`
	Data           json.RawMessage `json:"data"`
	Exc            string          `json:"exc"`
	ExcType        string          `json:"exc_type"`
	Exception      string          `json:"exception"`
	ServerMessages string          `json:"_server_messages"`
}

// call invokes a whitelisted method and returns the raw `message` payload.
func (c *Client) call(ctx context.Context, method string, args any) (json.RawMessage, error) {
	env, err := c.do(ctx, http.MethodPost, "/api/method/"+method, args)
	if err != nil {
		return nil, err
	}
	return env.Message, nil
}

func (c *Client) resource(ctx context.Context, method, doctype, name string, query url.Values, body any) (json.RawMessage, error) {
	path := "/api/resource/" + url.PathEscape(doctype)
	if name != "" {
		path += "/" + url.PathEscape(name)
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	env, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("frappe: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", erp.ErrRemote, method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", erp.ErrRemote, err)
	}

	var env envelope
	if len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, &env); err != nil {
			if resp.StatusCode >= 400 {
				return nil, &RemoteError{Status: resp.StatusCode, Message: strings.TrimSpace(string(payload))}
			}
			return nil, fmt.Errorf("%w: decode response: %v", erp.ErrRemote, err)
		}
	}
	if resp.StatusCode >= 400 || env.Exc != "" || env.ExcType != "" {
		return nil, &RemoteError{
			Status:  resp.StatusCode,
			ExcType: env.ExcType,
			Message: serverMessage(env),
		}
	}
	return &env, nil
}

// serverMessage extracts the first user-facing message of a failed response.
func serverMessage(env envelope) string {
	if env.ServerMessages != "" {
		var encoded []string
		if err := json.Unmarshal([]byte(env.ServerMessages), &encoded); err == nil && len(encoded) > 0 {
			var msg struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal([]byte(encoded[0]), &msg); err == nil && msg.Message != "" {
				return msg.Message
			}
			return encoded[0]
		}
	}
	if env.Exception != "" {
		return env.Exception
	}
	return env.Exc
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
