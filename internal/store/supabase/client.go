// Package supabase writes bookings to a hosted Supabase project through
// its PostgREST API.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/supabase-community/postgrest-go"

	"talwar/internal/booking"
	"talwar/internal/config"
	"talwar/internal/metrics"
)

const (
	restPath       = "/rest/v1"
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 64 << 10
	maxMessageLen  = 200
)

// APIError is an error body returned by PostgREST.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Code       string `json:"code"`
	Details    string `json:"details"`
	Hint       string `json:"hint"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase: %d: %s", e.StatusCode, e.Message)
}

// DisplayMessage is the message shown to the person booking.
func (e *APIError) DisplayMessage() string {
	return e.Message
}

// Client inserts and lists rows of a single table.
type Client struct {
	restURL   string
	key       string
	table     string
	timeout   time.Duration
	transport http.RoundTripper
}

// New returns a client for cfg. It fails with booking.ErrNotConfigured if
// the URL or key is missing or the URL is not an absolute http(s) URL.
func New(cfg config.SupabaseConfig) (*Client, error) {
	rawURL := strings.TrimSpace(cfg.URL)
	key := strings.TrimSpace(cfg.AnonKey)
	if rawURL == "" || key == "" {
		return nil, fmt.Errorf("%w: SUPABASE_URL and SUPABASE_ANON_KEY are required", booking.ErrNotConfigured)
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid SUPABASE_URL %q", booking.ErrNotConfigured, rawURL)
	}
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		return nil, fmt.Errorf("%w: SUPABASE_TABLE is empty", booking.ErrNotConfigured)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	u.Path = strings.TrimRight(u.Path, "/") + restPath
	u.RawQuery, u.Fragment = "", ""
	return &Client{
		restURL:   u.String(),
		key:       key,
		table:     table,
		timeout:   timeout,
		transport: http.DefaultTransport,
	}, nil
}

// Table returns the table the client writes to.
func (c *Client) Table() string {
	return c.table
}

// rest builds a PostgREST client whose requests are bound to ctx
func (c *Client) rest(ctx context.Context) *postgrest.Client {
	rc := postgrest.NewClient(c.restURL, "", map[string]string{
		"apikey":        c.key,
		"Authorization": "Bearer " + c.key,
	})
	rc.Transport.Parent = &requestTransport{ctx: ctx, timeout: c.timeout, next: c.transport}
	return rc
}

// Insert creates one row and returns the id PostgREST assigned to it.
func (c *Client) Insert(ctx context.Context, p booking.Payload) (booking.RecordID, error) {
	var created struct {
		ID booking.RecordID `json:"id"`
	}
	start := time.Now()
	_, err := c.rest(ctx).From(c.table).
		Insert(p, false, "", "representation", "").
		Single().
		ExecuteTo(&created)
	err = requestError(err)
	metrics.RecordStoreRequest("insert", time.Since(start), err)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// List returns rows newest first.
func (c *Client) List(ctx context.Context, skip, limit int) ([]booking.Record, error) {
	var records []booking.Record
	start := time.Now()
	_, err := c.rest(ctx).From(c.table).
		Select("*", "", false).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Range(skip, skip+limit-1, "").
		ExecuteTo(&records)
	err = requestError(err)
	metrics.RecordStoreRequest("list", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Ping checks that the table is reachable with the configured key.
func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	_, _, err := c.rest(ctx).From(c.table).
		Select("id", "", true).
		Limit(1, "").
		Execute()
	err = requestError(err)
	metrics.RecordStoreRequest("ping", time.Since(start), err)
	return err
}

func requestError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return fmt.Errorf("supabase request failed: %w", err)
}

// requestTransport binds PostgREST requests to a context and timeout and
// turns non-2xx responses into *APIError before postgrest-go flattens them.
type requestTransport struct {
	ctx     context.Context
	timeout time.Duration
	next    http.RoundTripper
}

func (t *requestTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(t.ctx, t.timeout)
	resp, err := t.next.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer cancel()
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if len(bytes.TrimSpace(raw)) > 0 && json.Unmarshal(raw, apiErr) == nil && apiErr.Message != "" {
		return apiErr
	}
	// Not a PostgREST error body, e.g. a gateway page
	msg := []rune(strings.TrimSpace(string(raw)))
	if len(msg) > maxMessageLen {
		msg = append(msg[:maxMessageLen], '…')
	}
	apiErr.Message = string(msg)
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
