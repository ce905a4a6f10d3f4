package models

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gridwatch/kestrel/internal/features"
)

// sequenceLength is the fixed input window of the sequence model.
const sequenceLength = 72

// SequenceScorer calls an LSTM inference sidecar over HTTP. When no
// sidecar is configured or the request fails, it returns the neutral
// score so the ensemble stays usable without the sidecar deployed.
type SequenceScorer struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

type sequenceRequest struct {
	Sequence []float64 `json:"sequence"`
}

type sequenceResponse struct {
	Score float64 `json:"score"`
}

// NewSequenceScorer builds the remote scorer. An empty baseURL
// disables remote calls entirely.
func NewSequenceScorer(baseURL string, timeoutSeconds int, logger *slog.Logger) *SequenceScorer {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 5
	}
	return &SequenceScorer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		logger:  logger,
	}
}

func (s *SequenceScorer) Name() string { return NameLSTM }

func (s *SequenceScorer) Loaded() bool { return s.baseURL != "" }

func (s *SequenceScorer) Score(ctx context.Context, readings []float64, _ features.Vector) (float64, error) {
	if s.baseURL == "" || len(readings) == 0 {
		return NeutralScore, nil
	}

	// Score the trailing window. Shorter profiles are left-padded with
	// zeros so daily snapshots still reach the sidecar.
	seq := readings
	if len(seq) >= sequenceLength {
		seq = seq[len(seq)-sequenceLength:]
	} else {
		padded := make([]float64, sequenceLength)
		copy(padded[sequenceLength-len(seq):], seq)
		seq = padded
	}
	body, err := json.Marshal(sequenceRequest{Sequence: seq})
	if err != nil {
		return NeutralScore, fmt.Errorf("encode sequence request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return NeutralScore, fmt.Errorf("build sequence request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return NeutralScore, fmt.Errorf("sequence sidecar request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return NeutralScore, fmt.Errorf("sequence sidecar status %d", resp.StatusCode)
	}

	var out sequenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return NeutralScore, fmt.Errorf("decode sequence response: %w", err)
	}
	return clamp01(out.Score), nil
}
