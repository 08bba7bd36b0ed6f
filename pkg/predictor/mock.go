package predictor

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/shopspring/decimal"
)

// Random is the source of uniform values in [0, 1) used for mock values.
// *rand.Rand satisfies it.
type Random interface {
	Float64() float64
}

// MockRange is the interval and precision of mock values for one kind.
type MockRange struct {
	Min    float64
	Max    float64
	Places int32
}

var mockRanges = map[Kind]MockRange{
	SpecScore: {Min: 60, Max: 100, Places: 1},
	Price:     {Min: 500, Max: 2000, Places: 2},
}

// MockRangeFor returns the mock range for kind.
func MockRangeFor(kind Kind) (MockRange, bool) {
	r, ok := mockRanges[kind]
	return r, ok
}

// Contains reports whether v lies within the range bounds.
func (r MockRange) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

type globalRandom struct{}

func (globalRandom) Float64() float64 { return rand.Float64() }

// MockGenerator draws synthetic predictions. It is safe for concurrent use
// even when the injected Random is not.
type MockGenerator struct {
	mu  sync.Mutex
	rnd Random
}

// NewMockGenerator creates a generator over rnd. A nil rnd uses the
// process-wide math/rand/v2 source.
func NewMockGenerator(rnd Random) *MockGenerator {
	if rnd == nil {
		rnd = globalRandom{}
	}
	return &MockGenerator{rnd: rnd}
}

// Value returns a value drawn uniformly from kind's range, rounded to the
// range precision. Unknown kinds yield 0.
func (g *MockGenerator) Value(kind Kind) float64 {
	r, ok := mockRanges[kind]
	if !ok {
		return 0
	}

	g.mu.Lock()
	u := g.rnd.Float64()
	g.mu.Unlock()

	if u < 0 || math.IsNaN(u) {
		u = 0
	}
	if u > 1 {
		u = 1
	}

	v := r.Min + u*(r.Max-r.Min)
	return decimal.NewFromFloat(v).Round(r.Places).InexactFloat64()
}
