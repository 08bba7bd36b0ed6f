// Package labels loads the label-encoding table that maps categorical laptop
// attributes (GPU model names) to the integer codes the prediction models
// were trained on.
package labels

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Mapping holds the label-encoding tables.
type Mapping struct {
	GPU map[string]float64 `json:"gpu" yaml:"gpu"`
}

// Empty returns a mapping with no entries.
func Empty() *Mapping {
	return &Mapping{GPU: map[string]float64{}}
}

// Parse decodes a mapping. format is "json" or "yaml"/"yml".
func Parse(data []byte, format string) (*Mapping, error) {
	var m Mapping
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "json", "":
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, eris.Wrap(err, "labels: decode json")
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, eris.Wrap(err, "labels: decode yaml")
		}
	default:
		return nil, eris.Errorf("labels: unsupported format %q", format)
	}
	if m.GPU == nil {
		m.GPU = map[string]float64{}
	}
	return &m, nil
}

// Load reads a mapping file, choosing the decoder by extension.
func Load(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "labels: read %s", path)
	}
	return Parse(data, filepath.Ext(path))
}

// LoadOrEmpty is like Load but returns an empty mapping when the file does
// not exist. Any other error is returned.
func LoadOrEmpty(path string) (*Mapping, error) {
	if path == "" {
		return Empty(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		zap.L().Warn("labels: mapping file not found, no GPUs available", zap.String("path", path))
		return Empty(), nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "labels: read %s", path)
	}
	return Parse(data, filepath.Ext(path))
}

// GPUNames returns the known GPU names in sorted order.
func (m *Mapping) GPUNames() []string {
	names := make([]string, 0, len(m.GPU))
	for name := range m.GPU {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GPUCode returns the encoded value for a GPU name.
func (m *Mapping) GPUCode(name string) (float64, bool) {
	code, ok := m.GPU[name]
	return code, ok
}
