package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"PriceCast/internal/domain/models"
	domsvc "PriceCast/internal/domain/service"
	xhttp "PriceCast/pkg/http"
)

// TFServing calls a TensorFlow Serving REST predict endpoint.
type TFServing struct {
	url    string
	client *xhttp.Client
}

type tfPredictRequest struct {
	Instances []models.Matrix `json:"instances"`
}

type tfPredictResponse struct {
	Predictions []json.RawMessage `json:"predictions"`
	Error       string            `json:"error,omitempty"`
}

// tfFloat accepts numbers and the quoted non-finite tokens left by
// quoteNonFinite.
type tfFloat float64

func (f *tfFloat) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"NaN"`, `"-NaN"`:
		*f = tfFloat(math.NaN())
	case `"Infinity"`:
		*f = tfFloat(math.Inf(1))
	case `"-Infinity"`:
		*f = tfFloat(math.Inf(-1))
	default:
		var v float64
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = tfFloat(v)
	}
	return nil
}

var nonFiniteTokens = []string{"-Infinity", "Infinity", "-NaN", "NaN"}

// quoteNonFinite wraps bare NaN and Infinity tokens, which TF Serving emits
// for non-finite outputs, in quotes so the body becomes valid JSON.
func quoteNonFinite(body []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(body))
	inString := false
	for i := 0; i < len(body); i++ {
		c := body[i]
		if inString {
			out.WriteByte(c)
			switch c {
			case '\\':
				if i+1 < len(body) {
					i++
					out.WriteByte(body[i])
				}
			case '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out.WriteByte(c)
			continue
		}
		matched := false
		for _, tok := range nonFiniteTokens {
			if bytes.HasPrefix(body[i:], []byte(tok)) {
				out.WriteByte('"')
				out.WriteString(tok)
				out.WriteByte('"')
				i += len(tok) - 1
				matched = true
				break
			}
		}
		if !matched {
			out.WriteByte(c)
		}
	}
	return out.Bytes()
}

// NewTFServing builds a client for POST {baseURL}/v1/models/{model}:predict.
func NewTFServing(baseURL, model string, timeout time.Duration) (*TFServing, error) {
	if baseURL == "" || model == "" {
		return nil, fmt.Errorf("tfserving: url and model are required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TFServing{
		url:    fmt.Sprintf("%s/v1/models/%s:predict", strings.TrimRight(baseURL, "/"), model),
		client: xhttp.NewClient(xhttp.WithTimeout(timeout), xhttp.WithRetry(2, 50*time.Millisecond)),
	}, nil
}

// Predict sends one window and returns the next-timestep vector. Models that
// emit a whole sequence contribute their last row.
func (p *TFServing) Predict(ctx context.Context, window models.Matrix) ([]float64, error) {
	var body []byte
	err := p.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     p.url,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    tfPredictRequest{Instances: []models.Matrix{window}},
	}, &body)
	if err != nil {
		return nil, fmt.Errorf("tfserving predict: %w", err)
	}
	var resp tfPredictResponse
	if err := json.Unmarshal(quoteNonFinite(body), &resp); err != nil {
		return nil, fmt.Errorf("tfserving predict: decode json: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("tfserving predict: %s", resp.Error)
	}
	if len(resp.Predictions) == 0 {
		return nil, fmt.Errorf("tfserving predict: empty predictions")
	}
	return decodePrediction(resp.Predictions[0])
}

func decodePrediction(raw json.RawMessage) ([]float64, error) {
	var vec []tfFloat
	if err := json.Unmarshal(raw, &vec); err == nil {
		return floats(vec), nil
	}
	var seq [][]tfFloat
	if err := json.Unmarshal(raw, &seq); err != nil {
		return nil, fmt.Errorf("tfserving predict: unexpected prediction shape: %w", err)
	}
	if len(seq) == 0 {
		return nil, fmt.Errorf("tfserving predict: empty sequence")
	}
	return floats(seq[len(seq)-1]), nil
}

func floats(v []tfFloat) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

var _ domsvc.SequencePredictor = (*TFServing)(nil)
