// Package laptop turns laptop hardware attributes into the feature vectors
// the prediction models expect.
package laptop

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/laptop-predictor/internal/labels"
	"github.com/sells-group/laptop-predictor/pkg/predictor"
)

// Form defaults.
const (
	DefaultScreenSize = 15.6
	DefaultRAM        = 8
	DefaultThreads    = 4
	DefaultCores      = 4
)

// Laptop describes one hardware configuration.
type Laptop struct {
	GPU        string  `json:"gpu"`
	ScreenSize float64 `json:"screen_size"`
	RAM        float64 `json:"ram"`
	Threads    float64 `json:"threads"`
	Cores      float64 `json:"cores"`
}

// Default returns the configuration the form starts with. gpu is normally
// the first entry of the label mapping.
func Default(gpu string) Laptop {
	return Laptop{
		GPU:        gpu,
		ScreenSize: DefaultScreenSize,
		RAM:        DefaultRAM,
		Threads:    DefaultThreads,
		Cores:      DefaultCores,
	}
}

// Encoder builds feature vectors using a label mapping.
type Encoder struct {
	labels *labels.Mapping
}

// NewEncoder creates an encoder. A nil mapping encodes every GPU as 0.
func NewEncoder(m *labels.Mapping) *Encoder {
	if m == nil {
		m = labels.Empty()
	}
	return &Encoder{labels: m}
}

// Labels returns the mapping the encoder uses.
func (e *Encoder) Labels() *labels.Mapping {
	return e.labels
}

// GPUCode encodes a GPU name. Unknown names encode to 0.
func (e *Encoder) GPUCode(name string) float64 {
	code, _ := e.labels.GPUCode(name)
	return code
}

// Features returns the vector for kind:
//
//	SpecScore: [gpu, screen size, threads, ram, cores]
//	Price:     [gpu, threads, ram, cores]
func (e *Encoder) Features(kind predictor.Kind, l Laptop) ([]float64, error) {
	gpu := e.GPUCode(l.GPU)
	switch kind {
	case predictor.SpecScore:
		return []float64{gpu, l.ScreenSize, l.Threads, l.RAM, l.Cores}, nil
	case predictor.Price:
		return []float64{gpu, l.Threads, l.RAM, l.Cores}, nil
	default:
		return nil, eris.Wrapf(predictor.ErrUnknownKind, "laptop: encode kind %d", int(kind))
	}
}
