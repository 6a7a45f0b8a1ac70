// Package remote talks to the kintone-style record store over its REST API.
// It provides a [Client] with the read and write calls the sync engine needs,
// a [Retry] helper with exponential backoff, and the [APIError] type used to
// tell transient failures from permanent ones.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/njoerd114/batchrelay/internal/record"
)

const (
	// MaxRecordsPerCall is the store's limit on records per write call.
	MaxRecordsPerCall = 500

	pathRecords = "/k/v1/records.json"
	pathApp     = "/k/v1/app.json"

	headerAPIToken       = "X-Cybozu-API-Token"
	headerAuthorization  = "X-Cybozu-Authorization"
	headerMethodOverride = "X-HTTP-Method-Override"

	// maxErrorBody bounds how much of a failed response is read.
	maxErrorBody = 64 << 10
)

// ErrTooManyRecords is returned by write calls given more than
// MaxRecordsPerCall records.
var ErrTooManyRecords = errors.New("too many records for one call")

// APIError is a non-2xx response from the store.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("store returned %d [%s]: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("store returned %d: %s", e.Status, e.Message)
}

// Retryable reports whether the same request may succeed later: rate limiting
// and server-side failures are, validation and auth failures are not.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout || e.Status >= 500
}

// Client is a record store client. Create one with [NewClient].
type Client struct {
	baseURL string
	header  http.Header
	hc      *http.Client
	log     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = d }
}

// WithAPIToken authenticates with one or more comma-separated API tokens.
func WithAPIToken(token string) Option {
	return func(c *Client) { c.header.Set(headerAPIToken, token) }
}

// WithPassword authenticates with a login name and password.
func WithPassword(user, password string) Option {
	return func(c *Client) {
		c.header.Set(headerAuthorization, base64.StdEncoding.EncodeToString([]byte(user+":"+password)))
	}
}

// WithLogger sets the logger used for request tracing at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.log = logger }
}

// NewClient creates a Client for the store at baseURL
// (e.g. "https://example.cybozu.com").
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.ParseRequestURI(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("store URL %q must be a valid http or https URL", baseURL)
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		header:  make(http.Header),
		hc:      &http.Client{Timeout: 30 * time.Second},
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Ping checks connectivity and credentials by reading the collection's app
// settings.
func (c *Client) Ping(ctx context.Context, collection string) error {
	q := url.Values{"id": {collection}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathApp+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}
	c.applyHeaders(req, false)
	return c.do(req, nil)
}

type queryRequest struct {
	App    string   `json:"app"`
	Fields []string `json:"fields,omitempty"`
	Query  string   `json:"query"`
}

type queryResponse struct {
	Records []record.Record `json:"records"`
}

// Query returns the records of collection matching query, projected to
// fields (all fields when empty). The query may carry "limit"/"offset".
// The request is sent as POST with a method override so that long queries
// stay out of the URL.
func (c *Client) Query(ctx context.Context, collection string, fields []string, query string) ([]record.Record, error) {
	var resp queryResponse
	body := queryRequest{App: collection, Fields: fields, Query: query}
	if err := c.send(ctx, http.MethodGet, body, &resp); err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	c.log.Debug("store query", "collection", collection, "query", query, "records", len(resp.Records))
	return resp.Records, nil
}

type createRequest struct {
	App     string          `json:"app"`
	Records []record.Record `json:"records"`
}

type createResponse struct {
	IDs       []string `json:"ids"`
	Revisions []string `json:"revisions"`
}

// CreateMany adds records to collection and returns one WriteResult per
// record, in submission order.
func (c *Client) CreateMany(ctx context.Context, collection string, records []record.Record) ([]record.WriteResult, error) {
	if len(records) > MaxRecordsPerCall {
		return nil, Permanent(fmt.Errorf("create %d records in %s: %w (max %d)", len(records), collection, ErrTooManyRecords, MaxRecordsPerCall))
	}

	var resp createResponse
	if err := c.send(ctx, http.MethodPost, createRequest{App: collection, Records: records}, &resp); err != nil {
		return nil, fmt.Errorf("create %d records in %s: %w", len(records), collection, err)
	}
	if len(resp.IDs) != len(records) || len(resp.Revisions) != len(resp.IDs) {
		return nil, fmt.Errorf("create %d records in %s: store acknowledged %d ids and %d revisions",
			len(records), collection, len(resp.IDs), len(resp.Revisions))
	}

	out := make([]record.WriteResult, len(resp.IDs))
	for i := range resp.IDs {
		out[i] = record.WriteResult{ID: resp.IDs[i], Revision: resp.Revisions[i]}
	}
	return out, nil
}

type updateRequest struct {
	App     string          `json:"app"`
	Records []record.Update `json:"records"`
}

type updateResponse struct {
	Records []record.WriteResult `json:"records"`
}

// UpdateMany overwrites the given fields of existing records.
func (c *Client) UpdateMany(ctx context.Context, collection string, updates []record.Update) ([]record.WriteResult, error) {
	if len(updates) > MaxRecordsPerCall {
		return nil, Permanent(fmt.Errorf("update %d records in %s: %w (max %d)", len(updates), collection, ErrTooManyRecords, MaxRecordsPerCall))
	}

	var resp updateResponse
	if err := c.send(ctx, http.MethodPut, updateRequest{App: collection, Records: updates}, &resp); err != nil {
		return nil, fmt.Errorf("update %d records in %s: %w", len(updates), collection, err)
	}
	return resp.Records, nil
}

type deleteRequest struct {
	App string   `json:"app"`
	IDs []string `json:"ids"`
}

// DeleteMany removes records by ID.
func (c *Client) DeleteMany(ctx context.Context, collection string, ids []string) error {
	if len(ids) > MaxRecordsPerCall {
		return Permanent(fmt.Errorf("delete %d records in %s: %w (max %d)", len(ids), collection, ErrTooManyRecords, MaxRecordsPerCall))
	}
	if err := c.send(ctx, http.MethodDelete, deleteRequest{App: collection, IDs: ids}, nil); err != nil {
		return fmt.Errorf("delete %d records in %s: %w", len(ids), collection, err)
	}
	return nil
}

// send issues a JSON request against the records endpoint. GET requests are
// tunnelled through POST with a method override header.
func (c *Client) send(ctx context.Context, method string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return Permanent(fmt.Errorf("encode request: %w", err))
	}

	httpMethod := method
	if method == http.MethodGet {
		httpMethod = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, c.baseURL+pathRecords, bytes.NewReader(b))
	if err != nil {
		return Permanent(fmt.Errorf("create request: %w", err))
	}
	c.applyHeaders(req, true)
	if method == http.MethodGet {
		req.Header.Set(headerMethodOverride, http.MethodGet)
	}
	return c.do(req, out)
}

func (c *Client) applyHeaders(req *http.Request, hasBody bool) {
	for k, v := range c.header {
		req.Header[k] = v
	}
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if jsonErr := json.Unmarshal(raw, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
