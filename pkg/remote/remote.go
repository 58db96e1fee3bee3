// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package remote provides a RawLoader which fetches credentials from an
// HTTP credential service instead of config files.
//
// For a credential named KEY the loader issues
//
//	GET <base>/KEY
//
// and expects a JSON object with the same shape as a config file entry.
// A 404 response yields an empty record, which lets the schema fall back
// to its config files.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sony/gobreaker"

	"github.com/z5labs/dbic/internal/ioutil"
	"github.com/z5labs/dbic/internal/noop"
	"github.com/z5labs/dbic/pkg/credential"
	"github.com/z5labs/dbic/pkg/decode"
)

// SchemaHeader carries the name of the requesting schema.
const SchemaHeader = "X-Dbic-Schema"

type circuitOptions struct {
	maxRequests uint32
	timeout     time.Duration
	tripCount   uint32
}

type retryOptions struct {
	maxRetries int
	waitMin    time.Duration
	waitMax    time.Duration
}

type options struct {
	name       string
	timeout    time.Duration
	rt         http.RoundTripper
	header     http.Header
	logHandler slog.Handler

	co *circuitOptions
	ro *retryOptions
}

// Option configures a Loader.
type Option func(*options)

// Name identifies the credential service in logs and in the circuit breaker.
func Name(s string) Option {
	return func(o *options) {
		o.name = s
	}
}

// RoundTripper sets the base transport.
func RoundTripper(rt http.RoundTripper) Option {
	return func(o *options) {
		o.rt = rt
	}
}

// Timeout bounds every request, retries included.
func Timeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// Header adds a header, e.g. an authorization token, to every request.
func Header(key, value string) Option {
	return func(o *options) {
		o.header.Add(key, value)
	}
}

// Retry retries failed requests and 5xx responses up to max times.
func Retry(max int, waitMin, waitMax time.Duration) Option {
	return func(o *options) {
		o.ro = &retryOptions{
			maxRetries: max,
			waitMin:    waitMin,
			waitMax:    waitMax,
		}
	}
}

// CircuitBreaker stops calling the service after tripAfter consecutive
// failures until openTimeout has passed.
func CircuitBreaker(tripAfter uint32, openTimeout time.Duration) Option {
	return func(o *options) {
		o.co = &circuitOptions{
			maxRequests: 1,
			timeout:     openTimeout,
			tripCount:   tripAfter,
		}
	}
}

// LogHandler sets the slog.Handler requests are logged to.
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.logHandler = h
	}
}

// Loader is a dbic.RawLoader backed by an HTTP credential service.
type Loader struct {
	base   *url.URL
	header http.Header
	client *http.Client
	log    *slog.Logger
}

// New configures a Loader for the service rooted at baseURL.
func New(baseURL string, opts ...Option) (*Loader, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("credential service url must be absolute: %s", baseURL)
	}

	o := &options{
		name:       "credentials",
		timeout:    10 * time.Second,
		rt:         http.DefaultTransport,
		header:     make(http.Header),
		logHandler: noop.LogHandler{},
	}
	for _, opt := range opts {
		opt(o)
	}

	logger := slog.New(o.logHandler).With(slog.String("credential_service", o.name))
	return &Loader{
		base:   base,
		header: o.header,
		client: newClient(o, logger),
		log:    logger,
	}, nil
}

// StatusCodeError occurs when the credential service answers with an
// unexpected status code.
type StatusCodeError struct {
	Code int
}

// Error implements the error interface.
func (e StatusCodeError) Error() string {
	return fmt.Sprintf("credential service responded with status code: %d", e.Code)
}

// InvalidResponseError occurs when the response body is not a credential record.
type InvalidResponseError struct {
	Cause error
}

// Error implements the error interface.
func (e InvalidResponseError) Error() string {
	return fmt.Sprintf("invalid credential service response: %s", e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e InvalidResponseError) Unwrap() error {
	return e.Cause
}

// InvalidKeyError occurs when a lookup key cannot name a single path
// segment below the base url.
type InvalidKeyError struct {
	Key string
}

// Error implements the error interface.
func (e InvalidKeyError) Error() string {
	return fmt.Sprintf("key can not be used as a url path segment: %q", e.Key)
}

// keyURL appends key to the base url as exactly one escaped path segment,
// so "/" and ".." in a key never leave the base path.
func (l *Loader) keyURL(key string) (*url.URL, error) {
	if key == "" || key == "." || key == ".." {
		return nil, InvalidKeyError{Key: key}
	}
	u := *l.base
	u.Path = strings.TrimSuffix(l.base.Path, "/") + "/" + key
	u.RawPath = strings.TrimSuffix(l.base.EscapedPath(), "/") + "/" + url.PathEscape(key)
	return &u, nil
}

// LoadCredentials implements the dbic.RawLoader interface.
func (l *Loader) LoadCredentials(ctx context.Context, schema string, args credential.Record) (_ credential.Record, err error) {
	u, err := l.keyURL(args.DSN)
	if err != nil {
		return credential.Record{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return credential.Record{}, err
	}
	for k, vs := range l.header {
		req.Header[k] = vs
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(SchemaHeader, schema)

	resp, err := l.client.Do(req)
	if err != nil {
		return credential.Record{}, err
	}
	defer ioutil.TryClose(&err, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		l.log.DebugContext(ctx, "credential service has no record", slog.String("key", args.DSN))
		return credential.Record{}, nil
	case resp.StatusCode != http.StatusOK:
		return credential.Record{}, StatusCodeError{Code: resp.StatusCode}
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return credential.Record{}, err
	}
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	err = dec.Decode(&m)
	if err != nil {
		return credential.Record{}, InvalidResponseError{Cause: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return credential.Record{}, InvalidResponseError{Cause: errors.New("unexpected data after the response object")}
	}
	if m == nil {
		return credential.Record{}, InvalidResponseError{Cause: errors.New("response body is null")}
	}
	decode.NormalizeJsonNumbers(m)
	r, err := credential.FromMap(m)
	if err != nil {
		return credential.Record{}, InvalidResponseError{Cause: err}
	}
	return r, nil
}

func newClient(o *options, logger *slog.Logger) *http.Client {
	var rt http.RoundTripper = &logRoundTripper{
		base: o.rt,
		log:  logger,
	}

	if o.co != nil {
		co := o.co
		rt = &circuitRoundTripper{
			base: rt,
			cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:        o.name,
				MaxRequests: co.maxRequests,
				Timeout:     co.timeout,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= co.tripCount
				},
				OnStateChange: func(name string, from, to gobreaker.State) {
					switch to {
					case gobreaker.StateOpen:
						logger.Error("circuit has been opened")
					case gobreaker.StateHalfOpen:
						logger.Warn("circuit is now half open")
					case gobreaker.StateClosed:
						logger.Info("circuit has been closed")
					}
				},
			}),
		}
	}
	if o.ro == nil {
		return &http.Client{
			Timeout:   o.timeout,
			Transport: rt,
		}
	}

	ro := o.ro
	rc := retryablehttp.Client{
		HTTPClient: &http.Client{
			Transport: rt,
		},
		RetryWaitMin: ro.waitMin,
		RetryWaitMax: ro.waitMax,
		RetryMax:     ro.maxRetries,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      retryablehttp.DefaultBackoff,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}
	c := rc.StandardClient()
	c.Timeout = o.timeout
	return c
}

type logRoundTripper struct {
	base http.RoundTripper
	log  *slog.Logger
}

func (rt *logRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	start := time.Now()
	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		rt.log.WarnContext(
			ctx,
			"credential request failed",
			slog.String("url", req.URL.Redacted()),
			slog.Any("error", err),
		)
		return nil, err
	}
	rt.log.DebugContext(
		ctx,
		"credential response received",
		slog.String("url", req.URL.Redacted()),
		slog.Int("status_code", resp.StatusCode),
		slog.Duration("latency", time.Since(start)),
	)
	return resp, nil
}

type statusCodeError struct {
	code int
}

func (e statusCodeError) Error() string {
	return fmt.Sprintf("status code: %d", e.code)
}

type circuitRoundTripper struct {
	base http.RoundTripper
	cb   *gobreaker.CircuitBreaker
}

// RoundTrip counts transport errors and 5xx responses as failures but
// still hands 5xx responses back so retries can inspect them.
func (rt *circuitRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	v, err := rt.cb.Execute(func() (any, error) {
		resp, err := rt.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, statusCodeError{code: resp.StatusCode}
		}
		return resp, nil
	})
	resp, _ := v.(*http.Response)
	if err != nil {
		var serr statusCodeError
		if errors.As(err, &serr) && resp != nil {
			return resp, nil
		}
		return nil, err
	}
	return resp, nil
}
