package main

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/laptop-predictor/internal/config"
	"github.com/sells-group/laptop-predictor/internal/resilience"
	"github.com/sells-group/laptop-predictor/pkg/predictor"
)

// newPredictorClient builds the prediction client from config. obs may be nil.
func newPredictorClient(pc config.PredictorConfig, obs predictor.Observer) predictor.Client {
	opts := []predictor.Option{
		predictor.WithBaseURL(pc.BaseURL),
		predictor.WithTimeout(time.Duration(pc.TimeoutMs) * time.Millisecond),
	}
	if obs != nil {
		opts = append(opts, predictor.WithObserver(obs))
	}
	if pc.Circuit.Enabled {
		cbCfg := resilience.FromCircuitConfig(pc.Circuit.FailureThreshold, pc.Circuit.ResetTimeoutSecs)
		cbCfg.OnStateChange = func(name string, from, to resilience.CircuitState) {
			zap.L().Warn("predictor: circuit state change",
				zap.String("endpoint", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		}
		opts = append(opts, predictor.WithCircuitBreaker(cbCfg))
	}
	return predictor.NewClient(opts...)
}
