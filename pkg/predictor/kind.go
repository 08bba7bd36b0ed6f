package predictor

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Kind selects which prediction the backend computes.
type Kind int

const (
	// SpecScore predicts the laptop specification score.
	SpecScore Kind = iota
	// Price predicts the laptop price.
	Price
)

// Kinds lists every supported prediction kind.
var Kinds = []Kind{SpecScore, Price}

// ErrUnknownKind is returned for a Kind outside Kinds.
var ErrUnknownKind = eris.New("predictor: unknown prediction kind")

func (k Kind) String() string {
	switch k {
	case SpecScore:
		return "spec_score"
	case Price:
		return "price"
	default:
		return "unknown"
	}
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	return k == SpecScore || k == Price
}

// Path returns the backend route for k.
func (k Kind) Path() string {
	return "/predict/" + k.String()
}

// Field returns the response field that carries the prediction for k.
func (k Kind) Field() string {
	return k.String()
}

// FeatureCount is the vector length the backend model for k was trained on.
// The client does not enforce it.
func (k Kind) FeatureCount() int {
	switch k {
	case SpecScore:
		return 5
	case Price:
		return 4
	default:
		return 0
	}
}

// MarshalText encodes k by name.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, eris.Wrapf(ErrUnknownKind, "kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes k by name, see ParseKind.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind parses "spec_score" (or "spec") and "price".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spec_score", "spec", "specscore", "spec-score":
		return SpecScore, nil
	case "price":
		return Price, nil
	default:
		return Kind(-1), eris.Wrapf(ErrUnknownKind, "%q", s)
	}
}
