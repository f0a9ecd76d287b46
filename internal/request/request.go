package request

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTimeout     = 40 * time.Second
	DefaultMaxAttempts = 3
)

// Options tunes a Client. Zero values fall back to the defaults.
type Options struct {
	Timeout         time.Duration
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Transport       http.RoundTripper
}

// Client sends provider calls with bounded retries. Timeout caps a whole
// call, retries and backoff included.
// Only transport failures and 429/502/503/504 answers are retried.
type Client struct {
	httpClient      *http.Client
	timeout         time.Duration
	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
}

// Response is a fully read provider response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RequestFunc builds a fresh request for every attempt so bodies can be replayed.
type RequestFunc func(ctx context.Context) (*http.Request, error)

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 250 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 4 * time.Second
	}
	return &Client{
		httpClient:      &http.Client{Timeout: opts.Timeout, Transport: opts.Transport},
		timeout:         opts.Timeout,
		maxAttempts:     opts.MaxAttempts,
		initialInterval: opts.InitialInterval,
		maxInterval:     opts.MaxInterval,
	}
}

// HTTPClient exposes the underlying client, mostly for httpmock activation in tests.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// TransportError marks a failure that never produced an HTTP response.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "transport: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Do executes the request built by newReq. When retries are exhausted on a
// retryable status the last response is returned with a nil error so the
// caller can map the status itself. Transport failures come back as *TransportError.
func (c *Client) Do(ctx context.Context, newReq RequestFunc) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var last *Response
	attempt := 0

	operation := func() error {
		attempt++
		req, err := newReq(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(&TransportError{Err: ctx.Err()})
			}
			logrus.WithFields(logrus.Fields{"url": req.URL.Path, "attempt": attempt}).Warn("provider call failed, retrying")
			return &TransportError{Err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &TransportError{Err: err}
		}
		last = &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}

		if retryableStatus(resp.StatusCode) {
			logrus.WithFields(logrus.Fields{"url": req.URL.Path, "status": resp.StatusCode, "attempt": attempt}).Warn("provider returned retryable status")
			return errRetryableStatus
		}
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initialInterval
	eb.MaxInterval = c.maxInterval
	eb.MaxElapsedTime = c.timeout
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.maxAttempts-1)), ctx)

	err := backoff.Retry(operation, policy)
	if errors.Is(err, errRetryableStatus) && last != nil {
		return last, nil
	}
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Err
		}
		if ctx.Err() != nil {
			return nil, &TransportError{Err: ctx.Err()}
		}
		return nil, err
	}
	return last, nil
}

var errRetryableStatus = errors.New("retryable status")

// DecodeJSON unmarshals the body into out.
func (r *Response) DecodeJSON(out interface{}) error {
	if len(r.Body) == 0 {
		return errors.New("empty response body")
	}
	return json.Unmarshal(r.Body, out)
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ToJsonReq converts a Go object to a JSON-encoded request body.
func ToJsonReq(payload interface{}) (*bytes.Buffer, error) {
	c, e := json.Marshal(payload)
	if e != nil {
		return nil, e
	}
	return bytes.NewBuffer(c), nil
}

// BasicAuth encodes username:password for an Authorization: Basic header.
func BasicAuth(username, password string) string {
	auth := username + ":" + password
	return base64.StdEncoding.EncodeToString([]byte(auth))
}
