// Package server exposes the prediction client over a small JSON API that a
// browser form (or any other shell) can call.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/laptop-predictor/internal/config"
	"github.com/sells-group/laptop-predictor/internal/laptop"
	"github.com/sells-group/laptop-predictor/internal/monitoring"
	"github.com/sells-group/laptop-predictor/pkg/predictor"
)

const maxBodyBytes = 64 << 10

// Server wires the prediction client to HTTP routes.
type Server struct {
	client  predictor.Client
	encoder *laptop.Encoder
	metrics *monitoring.Collector
	cfg     config.ServerConfig
	limiter *rate.Limiter
}

// New creates a Server. metrics is only read by /api/metrics; the client is
// expected to feed it through predictor.WithObserver. A nil metrics reports
// an empty snapshot.
func New(client predictor.Client, encoder *laptop.Encoder, metrics *monitoring.Collector, cfg config.ServerConfig) *Server {
	if metrics == nil {
		metrics = monitoring.NewCollector()
	}
	s := &Server{
		client:  client,
		encoder: encoder,
		metrics: metrics,
		cfg:     cfg,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit)
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s
}

// PredictionResponse is the body returned for a single prediction.
type PredictionResponse struct {
	Kind      predictor.Kind   `json:"kind"`
	Value     float64          `json:"value"`
	Source    predictor.Source `json:"source"`
	Failure   string           `json:"failure,omitempty"`
	Features  []float64        `json:"features"`
	RequestID string           `json:"request_id,omitempty"`
}

// GPUResponse lists the GPUs the form can offer and the form defaults.
type GPUResponse struct {
	GPUs     []string      `json:"gpus"`
	Defaults laptop.Laptop `json:"defaults"`
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/gpus", s.handleGPUs)
		r.Get("/metrics", s.handleMetrics)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit)
			r.Post("/predict", s.handlePredictAll)
			r.Post("/predict/{kind}", s.handlePredict)
		})
	})

	return r
}

func (s *Server) handleGPUs(w http.ResponseWriter, _ *http.Request) {
	names := s.encoder.Labels().GPUNames()
	first := ""
	if len(names) > 0 {
		first = names[0]
	}
	writeJSON(w, http.StatusOK, GPUResponse{GPUs: names, Defaults: laptop.Default(first)})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	kind, err := predictor.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown prediction kind")
		return
	}

	l, err := decodeLaptop(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.predict(r, kind, l)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode features")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePredictAll(w http.ResponseWriter, r *http.Request) {
	l, err := decodeLaptop(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		mu  sync.Mutex
		out = make(map[string]PredictionResponse, len(predictor.Kinds))
	)
	g := new(errgroup.Group)
	for _, kind := range predictor.Kinds {
		g.Go(func() error {
			resp, err := s.predict(r, kind, l)
			if err != nil {
				return err
			}
			mu.Lock()
			out[kind.String()] = resp
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		writeError(w, http.StatusInternalServerError, "encode features")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) predict(r *http.Request, kind predictor.Kind, l laptop.Laptop) (PredictionResponse, error) {
	features, err := s.encoder.Features(kind, l)
	if err != nil {
		return PredictionResponse{}, err
	}

	res := s.client.Predict(r.Context(), kind, features)

	reqID := RequestIDFromContext(r.Context())
	zap.L().Info("prediction",
		zap.String("request_id", reqID),
		zap.Stringer("kind", kind),
		zap.String("gpu", l.GPU),
		zap.Float64("value", res.Value),
		zap.String("source", string(res.Source)),
	)

	return PredictionResponse{
		Kind:      kind,
		Value:     res.Value,
		Source:    res.Source,
		Failure:   string(res.Failure()),
		Features:  features,
		RequestID: reqID,
	}, nil
}

// decodeLaptop reads a Laptop from the body. Omitted fields keep the form
// defaults.
func decodeLaptop(r *http.Request) (laptop.Laptop, error) {
	l := laptop.Default("")
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&l); err != nil {
		if errors.Is(err, io.EOF) {
			return l, nil
		}
		return laptop.Laptop{}, eris.Wrap(err, "server: decode laptop")
	}
	return l, nil
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
