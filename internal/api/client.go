// Package api talks to the todo service's JSON endpoints.
package api

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

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/idilsaglam/todosync/internal/csrf"
	"github.com/idilsaglam/todosync/internal/logging"
	"github.com/idilsaglam/todosync/internal/model"
	"github.com/idilsaglam/todosync/internal/session"
)

const (
	// DefaultTimeout bounds each request, body included.
	DefaultTimeout = 10 * time.Second

	maxBodyBytes = 1 << 20
)

var (
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("precondition failed")
)

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Code, http.StatusText(e.Code))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	case ErrPreconditionFailed:
		return e.Code == http.StatusPreconditionFailed
	}
	return false
}

// Meta carries response details the synchronizer needs.
type Meta struct {
	ETag      string
	RequestID string
}

// PutOptions tune a write.
type PutOptions struct {
	// IfMatch, when set, makes the write conditional on the server's ETag.
	IfMatch string
}

// Client is a todo service client. Safe for concurrent use.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	logger  *log.Logger
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithLimiter paces outgoing requests. nil disables pacing.
func WithLimiter(l *rate.Limiter) Option { return func(c *Client) { c.limiter = l } }

func WithLogger(l *log.Logger) Option { return func(c *Client) { c.logger = l } }

// WithTimeout sets the per-request timeout. Zero disables it.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// New creates a client for the service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q is not absolute", baseURL)
	}
	c := &Client{
		base:    u,
		http:    http.DefaultClient,
		logger:  logging.Discard(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewHTTPClient returns an http.Client that sends the session's cookies and
// adds the CSRF header to unsafe same-origin requests.
func NewHTTPClient(base *url.URL, sess *session.Session, cookieName, headerName string) *http.Client {
	return &http.Client{
		Jar: sess.Jar,
		Transport: &csrf.Transport{
			Base:       http.DefaultTransport,
			Origin:     base,
			Cookies:    sess,
			CookieName: cookieName,
			HeaderName: headerName,
		},
	}
}

// NewLimiter returns a limiter for rps requests per second; rps <= 0 means none.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// TodoPath is the item resource path, trailing slash included.
func TodoPath(id string) string {
	return "/api/todo/" + url.PathEscape(id) + "/"
}

// ListPath is the todolist resource path.
func ListPath(userID, listID string) string {
	return "/api/user/" + url.PathEscape(userID) + "/todolist/" + url.PathEscape(listID)
}

// GetTodo fetches the current representation of one item.
func (c *Client) GetTodo(ctx context.Context, id string) (model.Document, Meta, error) {
	body, meta, err := c.do(ctx, http.MethodGet, TodoPath(id), nil, nil)
	if err != nil {
		return model.Document{}, meta, err
	}
	doc, err := model.DecodeDocument(body)
	if err != nil {
		return model.Document{}, meta, fmt.Errorf("decode %s: %w", TodoPath(id), err)
	}
	return doc, meta, nil
}

// PutTodo writes doc back. The returned document is the server's echo when
// the response body holds one, otherwise nil.
func (c *Client) PutTodo(ctx context.Context, id string, doc model.Document, opts PutOptions) (*model.Document, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode todo %s: %w", id, err)
	}
	hdr := http.Header{}
	if opts.IfMatch != "" {
		hdr.Set("If-Match", opts.IfMatch)
	}
	body, _, err := c.do(ctx, http.MethodPut, TodoPath(id), payload, hdr)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	echo, err := model.DecodeDocument(body)
	if err != nil {
		c.logger.Debug("put response is not a todo document", "id", id, "err", err)
		return nil, nil
	}
	return &echo, nil
}

// ListTodos fetches every item of one todolist.
func (c *Client) ListTodos(ctx context.Context, userID, listID string) ([]model.Todo, error) {
	path := ListPath(userID, listID)
	body, _, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	var l model.List
	if err := json.Unmarshal(body, &l); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return l.Todos, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, hdr http.Header) ([]byte, Meta, error) {
	meta := Meta{RequestID: uuid.NewString()}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, meta, fmt.Errorf("%s %s: %w", method, path, err)
		}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	target := c.base.String() + path
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, meta, fmt.Errorf("%s %s: %w", method, path, err)
	}
	for k, vs := range hdr {
		req.Header[k] = vs
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", meta.RequestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "path", path, "request_id", meta.RequestID, "err", err)
		return nil, meta, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, meta, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	meta.ETag = resp.Header.Get("ETag")
	c.logger.Debug("request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", meta.RequestID,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, meta, &StatusError{
			Method: method,
			URL:    path,
			Code:   resp.StatusCode,
			Body:   snippet(data),
		}
	}
	return data, meta, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
