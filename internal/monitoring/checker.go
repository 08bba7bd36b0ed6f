package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/laptop-predictor/internal/config"
)

// Checker runs periodic fallback-rate checks in the background. Each check
// looks only at predictions made since the previous check.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	prev *MetricsSnapshot
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", interval),
		zap.Float64("fallback_rate_threshold", c.cfg.FallbackRateThreshold),
	)

	c.prev = c.collector.Snapshot()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) []Alert {
	snap := c.collector.Snapshot()
	window := snap.Sub(c.prev)
	c.prev = snap

	alerts := c.alerter.Evaluate(window)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered", zap.Int("predictions", window.Total))
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return alerts
}
