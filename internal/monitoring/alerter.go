package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/laptop-predictor/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	// AlertFallbackRate fires when too many predictions of a kind were mocked.
	AlertFallbackRate AlertType = "fallback_rate"
	// AlertBackendDown fires when no prediction of a kind reached the backend.
	AlertBackendDown AlertType = "backend_down"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Kind      string         `json:"kind"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts,
// at most one per kind.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	minSamples := a.cfg.MinSamples
	if minSamples <= 0 {
		minSamples = 1
	}

	names := make([]string, 0, len(snap.Kinds))
	for name := range snap.Kinds {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		m := snap.Kinds[name]
		if m.Total < minSamples {
			continue
		}

		details := map[string]any{
			"total":         m.Total,
			"mock":          m.Mock,
			"fallback_rate": m.FallbackRate,
			"failures":      m.Failures,
		}

		if m.Remote == 0 {
			alerts = append(alerts, Alert{
				Type:     AlertBackendDown,
				Kind:     name,
				Severity: "critical",
				Message: fmt.Sprintf(
					"All %d %s predictions since %s were mock values; the prediction service appears down",
					m.Total, name, snap.Since.Format(time.RFC3339),
				),
				Details:   details,
				Timestamp: now,
			})
			continue
		}

		if m.FallbackRate > a.cfg.FallbackRateThreshold {
			details["threshold"] = a.cfg.FallbackRateThreshold
			alerts = append(alerts, Alert{
				Type:     AlertFallbackRate,
				Kind:     name,
				Severity: "high",
				Message: fmt.Sprintf(
					"%s fallback rate %.1f%% exceeds threshold %.1f%% (%d mock / %d total)",
					name, m.FallbackRate*100, a.cfg.FallbackRateThreshold*100, m.Mock, m.Total,
				),
				Details:   details,
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.String("kind", alert.Kind),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("kind", alert.Kind),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
