package normalizer

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/samber/lo"

	"PriceCast/internal/domain/models"
	domsvc "PriceCast/internal/domain/service"
)

// Single serves one normalizer regardless of asset.
type Single struct {
	N domsvc.Normalizer
}

func (s Single) NormalizerFor(string) (domsvc.Normalizer, error) { return s.N, nil }

func (s Single) Assets() []string { return nil }

// PerAsset maps asset identifiers to their own fitted normalizer.
type PerAsset map[string]domsvc.Normalizer

func (m PerAsset) NormalizerFor(asset string) (domsvc.Normalizer, error) {
	n, ok := m[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownAsset, asset)
	}
	return n, nil
}

func (m PerAsset) Assets() []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}

// Spec is the on-disk JSON form of a fitted scaler.
type Spec struct {
	Type         string     `json:"type"`
	NFeaturesIn  int        `json:"n_features_in"`
	Mean         []float64  `json:"mean,omitempty"`
	Scale        []float64  `json:"scale,omitempty"`
	Min          []float64  `json:"min,omitempty"`
	DataMin      []float64  `json:"data_min,omitempty"`
	DataMax      []float64  `json:"data_max,omitempty"`
	FeatureRange [2]float64 `json:"feature_range,omitempty"`
}

// FromSpec builds a normalizer from its fitted parameters.
func FromSpec(s Spec) (domsvc.Normalizer, error) {
	var (
		n   domsvc.Normalizer
		err error
	)
	switch s.Type {
	case "standard", "":
		n, err = NewStandardScaler(s.Mean, s.Scale)
	case "minmax":
		if len(s.Min) > 0 {
			n, err = NewMinMaxScaler(s.Min, s.Scale)
		} else {
			lo, hi := s.FeatureRange[0], s.FeatureRange[1]
			if lo == 0 && hi == 0 {
				hi = 1
			}
			n, err = NewMinMaxFromRange(s.DataMin, s.DataMax, lo, hi)
		}
	default:
		return nil, fmt.Errorf("unknown scaler type %q", s.Type)
	}
	if err != nil {
		return nil, err
	}
	if s.NFeaturesIn != 0 && s.NFeaturesIn != n.InputFeatureCount() {
		return nil, fmt.Errorf("scaler declares %d features but was fitted on %d", s.NFeaturesIn, n.InputFeatureCount())
	}
	return n, nil
}

// LoadSingle reads one scaler spec from path.
func LoadSingle(path string) (Single, error) {
	var spec Spec
	if err := readJSON(path, &spec); err != nil {
		return Single{}, err
	}
	n, err := FromSpec(spec)
	if err != nil {
		return Single{}, fmt.Errorf("%s: %w", path, err)
	}
	return Single{N: n}, nil
}

// LoadPerAsset reads an {"asset": spec} object from path.
func LoadPerAsset(path string) (PerAsset, error) {
	var specs map[string]Spec
	if err := readJSON(path, &specs); err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("%s: no scalers", path)
	}
	out := make(PerAsset, len(specs))
	for asset, spec := range specs {
		n, err := FromSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("%s: asset %s: %w", path, asset, err)
		}
		out[asset] = n
	}
	return out, nil
}

func readJSON(path string, dest interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

var (
	_ domsvc.NormalizerSource = Single{}
	_ domsvc.NormalizerSource = PerAsset{}
)
