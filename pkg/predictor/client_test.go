package predictor

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/laptop-predictor/internal/resilience"
)

type fixedRandom float64

func (f fixedRandom) Float64() float64 { return float64(f) }

type recordingObserver struct {
	results []Result
}

func (o *recordingObserver) Observe(res Result, _ time.Duration) {
	o.results = append(o.results, res)
}

func decimalsAtMost(v float64, places int) bool {
	scale := math.Pow(10, float64(places))
	return math.Abs(v*scale-math.Round(v*scale)) < 1e-6
}

func TestPredict(t *testing.T) {
	tests := []struct {
		name        string
		kind        Kind
		features    []float64
		status      int
		body        string
		wantPath    string
		wantValue   float64
		wantSource  Source
		wantFailure resilience.Failure
	}{
		{
			name:       "spec_score_success",
			kind:       SpecScore,
			features:   []float64{3, 15.6, 8, 16, 4},
			status:     http.StatusOK,
			body:       `{"spec_score": 87.3}`,
			wantPath:   "/predict/spec_score",
			wantValue:  87.3,
			wantSource: SourceRemote,
		},
		{
			name:       "price_success",
			kind:       Price,
			features:   []float64{3, 8, 16, 4},
			status:     http.StatusOK,
			body:       `{"price": 1249.99}`,
			wantPath:   "/predict/price",
			wantValue:  1249.99,
			wantSource: SourceRemote,
		},
		{
			name:       "numeric_string",
			kind:       Price,
			features:   []float64{3, 8, 16, 4},
			status:     http.StatusOK,
			body:       `{"price": "999.5"}`,
			wantPath:   "/predict/price",
			wantValue:  999.5,
			wantSource: SourceRemote,
		},
		{
			name:       "created_status_is_success",
			kind:       SpecScore,
			features:   []float64{1, 14, 4, 8, 2},
			status:     http.StatusCreated,
			body:       `{"spec_score": 70}`,
			wantPath:   "/predict/spec_score",
			wantValue:  70,
			wantSource: SourceRemote,
		},
		{
			name:        "non_numeric_string",
			kind:        SpecScore,
			features:    []float64{3, 15.6, 8, 16, 4},
			status:      http.StatusOK,
			body:        `{"spec_score": "not-a-number"}`,
			wantPath:    "/predict/spec_score",
			wantSource:  SourceMock,
			wantFailure: resilience.FailureInvalidResponse,
		},
		{
			name:        "missing_field",
			kind:        Price,
			features:    []float64{3, 8, 16, 4},
			status:      http.StatusOK,
			body:        `{"spec_score": 80}`,
			wantPath:    "/predict/price",
			wantSource:  SourceMock,
			wantFailure: resilience.FailureInvalidResponse,
		},
		{
			name:        "null_field",
			kind:        SpecScore,
			features:    []float64{3, 15.6, 8, 16, 4},
			status:      http.StatusOK,
			body:        `{"spec_score": null}`,
			wantPath:    "/predict/spec_score",
			wantSource:  SourceMock,
			wantFailure: resilience.FailureInvalidResponse,
		},
		{
			name:        "boolean_field",
			kind:        SpecScore,
			features:    []float64{3, 15.6, 8, 16, 4},
			status:      http.StatusOK,
			body:        `{"spec_score": true}`,
			wantPath:    "/predict/spec_score",
			wantSource:  SourceMock,
			wantFailure: resilience.FailureInvalidResponse,
		},
		{
			name:        "infinite_string",
			kind:        Price,
			features:    []float64{3, 8, 16, 4},
			status:      http.StatusOK,
			body:        `{"price": "Infinity"}`,
			wantPath:    "/predict/price",
			wantSource:  SourceMock,
			wantFailure: resilience.FailureInvalidResponse,
		},
		{
			name:        "out_of_range_number",
			kind:        Price,
			features:    []float64{3, 8, 16, 4},
			status:      http.StatusOK,
			body:        `{"price": 1e400}`,
			wantPath:    "/predict/price",
			wantSource:  SourceMock,
			wantFailure: resilience.FailureInvalidResponse,
		},
		{
			name:        "malformed_json",
			kind:        SpecScore,
			features:    []float64{3, 15.6, 8, 16, 4},
			status:      http.StatusOK,
			body:        `{invalid json`,
			wantPath:    "/predict/spec_score",
			wantSource:  SourceMock,
			wantFailure: resilience.FailureInvalidResponse,
		},
		{
			name:        "server_error",
			kind:        Price,
			features:    []float64{3, 8, 16, 4},
			status:      http.StatusInternalServerError,
			body:        `{"detail": "model not loaded"}`,
			wantPath:    "/predict/price",
			wantSource:  SourceMock,
			wantFailure: resilience.FailureStatus,
		},
		{
			name:        "validation_error",
			kind:        SpecScore,
			features:    []float64{3, 15.6, 8, 16, 4},
			status:      http.StatusUnprocessableEntity,
			body:        `{"detail": [{"msg": "field required"}]}`,
			wantPath:    "/predict/spec_score",
			wantSource:  SourceMock,
			wantFailure: resilience.FailureStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, tt.wantPath, r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

				var req predictRequest
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, tt.features, req.Features)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			obs := &recordingObserver{}
			client := NewClient(WithBaseURL(srv.URL), WithObserver(obs))

			res := client.Predict(context.Background(), tt.kind, tt.features)

			assert.Equal(t, int32(1), hits.Load(), "exactly one request per call")
			assert.Equal(t, tt.kind, res.Kind)
			assert.Equal(t, tt.wantSource, res.Source)
			assert.False(t, math.IsNaN(res.Value) || math.IsInf(res.Value, 0))
			require.Len(t, obs.results, 1)
			assert.Equal(t, res, obs.results[0])

			if tt.wantSource == SourceRemote {
				assert.NoError(t, res.Cause)
				assert.False(t, res.Fallback())
				assert.InDelta(t, tt.wantValue, res.Value, 1e-9)
				return
			}

			require.Error(t, res.Cause)
			assert.True(t, res.Fallback())
			assert.Equal(t, tt.wantFailure, res.Failure())
			rng, ok := MockRangeFor(tt.kind)
			require.True(t, ok)
			assert.True(t, rng.Contains(res.Value), "mock value %v outside [%v, %v]", res.Value, rng.Min, rng.Max)
		})
	}
}

func TestPredict_StatusCodeCarriedInCause(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	res := client.Predict(context.Background(), Price, []float64{1, 2, 3, 4})

	assert.Equal(t, SourceMock, res.Source)
	assert.Equal(t, http.StatusServiceUnavailable, resilience.StatusCode(res.Cause))
	assert.Contains(t, res.Cause.Error(), "unexpected status 503")
}

func TestPredict_TimeoutFallsBackToPriceMock(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
		_, _ = w.Write([]byte(`{"price": 1000}`))
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(WithBaseURL(srv.URL), WithTimeout(50*time.Millisecond))

	start := time.Now()
	res := client.Predict(context.Background(), Price, []float64{3, 8, 16, 4})
	elapsed := time.Since(start)

	assert.Equal(t, SourceMock, res.Source)
	assert.Equal(t, resilience.FailureTimeout, res.Failure())
	assert.True(t, res.Value >= 500 && res.Value <= 2000, "value %v out of range", res.Value)
	assert.True(t, decimalsAtMost(res.Value, 2), "value %v has more than 2 decimals", res.Value)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, int32(1), hits.Load(), "timeouts are not retried")
}

func TestPredict_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient(WithBaseURL(url))

	for i := 0; i < 20; i++ {
		res := client.Predict(context.Background(), Price, []float64{3, 8, 16, 4})
		require.Equal(t, SourceMock, res.Source)
		assert.Equal(t, resilience.FailureNetwork, res.Failure())
		assert.True(t, res.Value >= 500 && res.Value <= 2000, "value %v out of range", res.Value)
		assert.True(t, decimalsAtMost(res.Value, 2))
	}
}

func TestPredict_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"spec_score": 90}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(WithBaseURL(srv.URL))
	res := client.Predict(ctx, SpecScore, []float64{1, 2, 3, 4, 5})

	assert.Equal(t, SourceMock, res.Source)
	assert.Equal(t, resilience.FailureCanceled, res.Failure())
	assert.True(t, res.Value >= 60 && res.Value <= 100)
}

func TestPredict_ForwardsWrongLengthVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []float64{1, 2, 3, 4}, req.Features)
		_, _ = w.Write([]byte(`{"spec_score": 75.5}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	res := client.Predict(context.Background(), SpecScore, []float64{1, 2, 3, 4})

	assert.Equal(t, SourceRemote, res.Source)
	assert.InDelta(t, 75.5, res.Value, 1e-9)
}

func TestPredict_NilFeaturesSendEmptyArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		assert.JSONEq(t, `[]`, string(raw["features"]))
		_, _ = w.Write([]byte(`{"price": 800}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	res := client.Predict(context.Background(), Price, nil)
	assert.Equal(t, SourceRemote, res.Source)
}

func TestPredict_NonFiniteFeatureFallsBackWithoutRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	res := client.Predict(context.Background(), SpecScore, []float64{math.NaN(), 15.6, 8, 16, 4})

	assert.Equal(t, SourceMock, res.Source)
	assert.Equal(t, resilience.FailureInvalidRequest, res.Failure())
	assert.Equal(t, int32(0), hits.Load())
}

func TestPredict_UnknownKind(t *testing.T) {
	client := NewClient(WithBaseURL("http://127.0.0.1:1"))
	res := client.Predict(context.Background(), Kind(7), []float64{1})

	assert.Equal(t, SourceMock, res.Source)
	assert.ErrorIs(t, res.Cause, ErrUnknownKind)
	assert.Equal(t, 0.0, res.Value)
}

func TestPredict_InjectedRandomBounds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	low := NewClient(WithBaseURL(srv.URL), WithRandom(fixedRandom(0)))
	high := NewClient(WithBaseURL(srv.URL), WithRandom(fixedRandom(0.9999999)))

	assert.Equal(t, 60.0, low.Predict(context.Background(), SpecScore, nil).Value)
	assert.Equal(t, 100.0, high.Predict(context.Background(), SpecScore, nil).Value)
	assert.Equal(t, 500.0, low.Predict(context.Background(), Price, nil).Value)
	assert.Equal(t, 2000.0, high.Predict(context.Background(), Price, nil).Value)
}

func TestFetch_ReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"spec_score": "nope"}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	v, err := client.Fetch(context.Background(), SpecScore, []float64{1, 2, 3, 4, 5})

	require.Error(t, err)
	assert.Equal(t, 0.0, v)
	assert.Contains(t, err.Error(), "is not a number")
	assert.Equal(t, resilience.FailureInvalidResponse, resilience.Classify(err))
}

func TestWithBaseURL_TrimsTrailingSlash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict/price", r.URL.Path)
		_, _ = w.Write([]byte(`{"price": 1500}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL + "/"))
	res := client.Predict(context.Background(), Price, []float64{1, 2, 3, 4})
	assert.Equal(t, SourceRemote, res.Source)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient().(*httpClient)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, "http://127.0.0.1:8000", c.baseURL)
	assert.Equal(t, 2000*time.Millisecond, c.timeout)
	assert.Nil(t, c.breakers)

	c = NewClient(WithBaseURL(""), WithTimeout(0)).(*httpClient)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, DefaultTimeout, c.timeout)
}

func TestWithCircuitBreaker_SkipsRequestsWhileOpen(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(
		WithBaseURL(srv.URL),
		WithCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour}),
	)

	for i := 0; i < 2; i++ {
		res := client.Predict(context.Background(), Price, []float64{1, 2, 3, 4})
		assert.Equal(t, resilience.FailureStatus, res.Failure())
	}

	res := client.Predict(context.Background(), Price, []float64{1, 2, 3, 4})
	assert.Equal(t, SourceMock, res.Source)
	assert.Equal(t, resilience.FailureCircuitOpen, res.Failure())
	assert.Equal(t, int32(2), hits.Load())

	// Breakers are per kind.
	res = client.Predict(context.Background(), SpecScore, []float64{1, 2, 3, 4, 5})
	assert.Equal(t, resilience.FailureStatus, res.Failure())
	assert.Equal(t, int32(3), hits.Load())
}

func TestPredict_ConcurrentCalls(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if n%2 == 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"spec_score": 81.2}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))

	const n = 40
	results := make(chan Result, n)
	for i := 0; i < n; i++ {
		go func() {
			results <- client.Predict(context.Background(), SpecScore, []float64{1, 2, 3, 4, 5})
		}()
	}
	for i := 0; i < n; i++ {
		res := <-results
		assert.True(t, res.Value >= 60 && res.Value <= 100)
	}
	assert.Equal(t, int32(n), hits.Load())
}
