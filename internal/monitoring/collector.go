package monitoring

import (
	"sync"
	"time"

	"github.com/sells-group/laptop-predictor/internal/resilience"
	"github.com/sells-group/laptop-predictor/pkg/predictor"
)

// KindMetrics holds counters for one prediction kind.
type KindMetrics struct {
	Total        int            `json:"total"`
	Remote       int            `json:"remote"`
	Mock         int            `json:"mock"`
	FallbackRate float64        `json:"fallback_rate"`
	Failures     map[string]int `json:"failures,omitempty"`
	AvgLatencyMs float64        `json:"avg_latency_ms"`

	latency time.Duration
}

// MetricsSnapshot holds a point-in-time view of prediction outcomes.
type MetricsSnapshot struct {
	Kinds        map[string]*KindMetrics `json:"kinds"`
	Total        int                     `json:"total"`
	Remote       int                     `json:"remote"`
	Mock         int                     `json:"mock"`
	FallbackRate float64                 `json:"fallback_rate"`

	Since       time.Time `json:"since"`
	CollectedAt time.Time `json:"collected_at"`
}

// Collector counts prediction outcomes in memory. It implements
// predictor.Observer.
type Collector struct {
	mu      sync.Mutex
	started time.Time
	kinds   map[predictor.Kind]*KindMetrics

	nowFunc func() time.Time
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	c := &Collector{nowFunc: time.Now}
	c.started = c.nowFunc().UTC()
	c.kinds = make(map[predictor.Kind]*KindMetrics)
	return c
}

// Observe records one prediction result.
func (c *Collector) Observe(res predictor.Result, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.kinds[res.Kind]
	if !ok {
		m = &KindMetrics{Failures: make(map[string]int)}
		c.kinds[res.Kind] = m
	}

	m.Total++
	m.latency += elapsed
	if res.Fallback() {
		m.Mock++
		m.Failures[string(res.Failure())]++
	} else {
		m.Remote++
	}
}

// Snapshot returns cumulative counters since the collector was created.
func (c *Collector) Snapshot() *MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &MetricsSnapshot{
		Kinds:       make(map[string]*KindMetrics, len(c.kinds)),
		Since:       c.started,
		CollectedAt: c.nowFunc().UTC(),
	}
	for kind, m := range c.kinds {
		cp := *m
		cp.Failures = make(map[string]int, len(m.Failures))
		for f, n := range m.Failures {
			cp.Failures[f] = n
		}
		snap.Kinds[kind.String()] = &cp
	}
	snap.finalize()
	return snap
}

// Sub returns the outcomes recorded between prev and s. A nil prev returns
// a copy of s.
func (s *MetricsSnapshot) Sub(prev *MetricsSnapshot) *MetricsSnapshot {
	out := &MetricsSnapshot{
		Kinds:       make(map[string]*KindMetrics, len(s.Kinds)),
		Since:       s.Since,
		CollectedAt: s.CollectedAt,
	}
	if prev != nil {
		out.Since = prev.CollectedAt
	}

	for name, cur := range s.Kinds {
		d := &KindMetrics{
			Total:    cur.Total,
			Remote:   cur.Remote,
			Mock:     cur.Mock,
			Failures: make(map[string]int, len(cur.Failures)),
			latency:  cur.latency,
		}
		for f, n := range cur.Failures {
			d.Failures[f] = n
		}
		if prev != nil {
			if old, ok := prev.Kinds[name]; ok {
				d.Total -= old.Total
				d.Remote -= old.Remote
				d.Mock -= old.Mock
				d.latency -= old.latency
				for f, n := range old.Failures {
					d.Failures[f] -= n
					if d.Failures[f] <= 0 {
						delete(d.Failures, f)
					}
				}
			}
		}
		out.Kinds[name] = d
	}
	out.finalize()
	return out
}

func (s *MetricsSnapshot) finalize() {
	s.Total, s.Remote, s.Mock = 0, 0, 0
	for _, m := range s.Kinds {
		m.FallbackRate = rate(m.Mock, m.Total)
		m.AvgLatencyMs = 0
		if m.Total > 0 {
			m.AvgLatencyMs = float64(m.latency.Microseconds()) / 1000 / float64(m.Total)
		}
		s.Total += m.Total
		s.Remote += m.Remote
		s.Mock += m.Mock
	}
	s.FallbackRate = rate(s.Mock, s.Total)
}

// FailureCount returns how many fallbacks of kind were caused by f.
func (s *MetricsSnapshot) FailureCount(kind predictor.Kind, f resilience.Failure) int {
	m, ok := s.Kinds[kind.String()]
	if !ok {
		return 0
	}
	return m.Failures[string(f)]
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
