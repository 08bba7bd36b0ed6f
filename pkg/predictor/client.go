// Package predictor calls the laptop prediction service and degrades to a
// synthetic value whenever the service cannot produce a usable answer.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/laptop-predictor/internal/resilience"
)

const (
	// DefaultBaseURL is the local prediction service address.
	DefaultBaseURL = "http://127.0.0.1:8000"
	// DefaultTimeout bounds a single prediction request.
	DefaultTimeout = 2000 * time.Millisecond

	maxResponseBytes = 1 << 20
	maxErrorBody     = 256
)

// Source records where a prediction value came from.
type Source string

const (
	// SourceRemote marks a value returned by the prediction service.
	SourceRemote Source = "api"
	// SourceMock marks a synthetic fallback value.
	SourceMock Source = "mock"
)

// Result is the outcome of Predict. Exactly one branch holds: Source is
// SourceRemote and Cause is nil, or Source is SourceMock and Cause explains
// why the service was not used.
type Result struct {
	Kind   Kind    `json:"kind"`
	Value  float64 `json:"value"`
	Source Source  `json:"source"`
	Cause  error   `json:"-"`
}

// Fallback reports whether the value is synthetic.
func (r Result) Fallback() bool {
	return r.Source == SourceMock
}

// Failure returns the failure class behind a fallback result.
func (r Result) Failure() resilience.Failure {
	return resilience.Classify(r.Cause)
}

// Observer is notified once per Predict call.
type Observer interface {
	Observe(res Result, elapsed time.Duration)
}

// Client produces laptop predictions.
type Client interface {
	// Predict always returns a finite value, falling back to a mock value
	// on any failure. It never retries.
	Predict(ctx context.Context, kind Kind, features []float64) Result
	// Fetch performs the single remote call without falling back.
	Fetch(ctx context.Context, kind Kind, features []float64) (float64, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default service base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRandom sets the source used for mock values.
func WithRandom(rnd Random) Option {
	return func(c *httpClient) {
		c.mock = NewMockGenerator(rnd)
	}
}

// WithObserver registers an observer for every Predict result.
func WithObserver(o Observer) Option {
	return func(c *httpClient) {
		c.observer = o
	}
}

// WithCircuitBreaker guards each kind's endpoint with its own breaker.
// While a breaker is open, Predict falls back without sending a request.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *httpClient) {
		c.breakers = make(map[Kind]*resilience.CircuitBreaker, len(Kinds))
		for _, k := range Kinds {
			c.breakers[k] = resilience.NewCircuitBreaker(k.String(), cfg)
		}
	}
}

type httpClient struct {
	baseURL  string
	timeout  time.Duration
	http     *http.Client
	mock     *MockGenerator
	observer Observer
	breakers map[Kind]*resilience.CircuitBreaker
}

type predictRequest struct {
	Features []float64 `json:"features"`
}

// NewClient creates a prediction client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: DefaultBaseURL,
		timeout: DefaultTimeout,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	if c.mock == nil {
		c.mock = NewMockGenerator(nil)
	}
	return c
}

func (c *httpClient) Predict(ctx context.Context, kind Kind, features []float64) Result {
	start := time.Now()

	res := Result{Kind: kind, Source: SourceRemote}
	value, err := c.Fetch(ctx, kind, features)
	if err != nil {
		res.Source = SourceMock
		res.Value = c.mock.Value(kind)
		res.Cause = err

		zap.L().Warn("predictor: using mock value",
			zap.Stringer("kind", kind),
			zap.String("failure", string(resilience.Classify(err))),
			zap.Float64("value", res.Value),
			zap.Error(err),
		)
	} else {
		res.Value = value
		zap.L().Debug("predictor: prediction served",
			zap.Stringer("kind", kind),
			zap.Float64("value", value),
			zap.Duration("elapsed", time.Since(start)),
		)
	}

	if c.observer != nil {
		c.observer.Observe(res, time.Since(start))
	}
	return res
}

func (c *httpClient) Fetch(ctx context.Context, kind Kind, features []float64) (float64, error) {
	if !kind.Valid() {
		return 0, resilience.NewFailure(resilience.FailureInvalidRequest,
			eris.Wrapf(ErrUnknownKind, "kind %d", int(kind)))
	}

	if cb := c.breakers[kind]; cb != nil {
		return resilience.Execute(ctx, cb, func(ctx context.Context) (float64, error) {
			return c.fetch(ctx, kind, features)
		})
	}
	return c.fetch(ctx, kind, features)
}

func (c *httpClient) fetch(ctx context.Context, kind Kind, features []float64) (float64, error) {
	if features == nil {
		features = []float64{}
	}

	body, err := json.Marshal(predictRequest{Features: features})
	if err != nil {
		// Only reachable with NaN or Inf features.
		return 0, resilience.NewFailure(resilience.FailureInvalidRequest,
			eris.Wrap(err, "predictor: marshal request"))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+kind.Path(), bytes.NewReader(body))
	if err != nil {
		return 0, resilience.NewFailure(resilience.FailureNetwork,
			eris.Wrap(err, "predictor: create request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, resilience.NewFailure(resilience.ClassifyTransport(err),
			eris.Wrap(err, "predictor: send request"))
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, resilience.NewFailure(resilience.ClassifyTransport(err),
			eris.Wrap(err, "predictor: read response"))
	}

	if !resilience.IsSuccessStatus(resp.StatusCode) {
		return 0, resilience.NewStatusFailure(
			eris.Errorf("predictor: unexpected status %d: %s", resp.StatusCode, truncate(respBody, maxErrorBody)),
			resp.StatusCode,
		)
	}

	value, err := decodeValue(respBody, kind.Field())
	if err != nil {
		return 0, resilience.NewFailure(resilience.FailureInvalidResponse, err)
	}
	return value, nil
}

// decodeValue extracts a finite number from field of a JSON object. Numeric
// strings are accepted; null, booleans and non-numeric strings are not.
func decodeValue(body []byte, field string) (float64, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return 0, eris.Wrap(err, "predictor: unmarshal response")
	}

	raw, ok := obj[field]
	if !ok {
		return 0, eris.Errorf("predictor: response missing %q", field)
	}
	raw = bytes.TrimSpace(raw)

	var value float64
	switch {
	case len(raw) > 0 && raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, eris.Wrapf(err, "predictor: decode %q", field)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, eris.Errorf("predictor: %q is not a number: %q", field, s)
		}
		value = v
	default:
		if err := json.Unmarshal(raw, &value); err != nil || string(raw) == "null" {
			return 0, eris.Errorf("predictor: %q is not a number: %s", field, truncate(raw, maxErrorBody))
		}
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, eris.Errorf("predictor: %q is not finite", field)
	}
	return value, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
