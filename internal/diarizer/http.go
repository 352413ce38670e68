package diarizer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/scribeforge/transcribe-orchestrator/internal/config"
	"github.com/scribeforge/transcribe-orchestrator/internal/logging"
	"github.com/scribeforge/transcribe-orchestrator/internal/xerrors"
)

// HTTPDiarizer calls a local or remote diarization sidecar over a bespoke
// JSON protocol: float32 PCM samples base64-encoded in the request body, a
// list of speaker turns in the response.
type HTTPDiarizer struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPDiarizer builds an HTTPDiarizer from settings.
func NewHTTPDiarizer(cfg config.DiarizerAdapterSettings) *HTTPDiarizer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPDiarizer{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type diarizeRequest struct {
	SamplesB64 string `json:"samples_b64"`
	SampleRate int    `json:"sample_rate"`
}

type diarizeResponse struct {
	Turns []Turn `json:"turns"`
}

// Diarize posts samples to the sidecar and decodes its JSON response.
func (d *HTTPDiarizer) Diarize(ctx context.Context, samples []float32, sampleRate int) ([]Turn, error) {
	payload := diarizeRequest{
		SamplesB64: encodeSamples(samples),
		SampleRate: sampleRate,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, xerrors.Wrap(err).Component("diarizer").Category(xerrors.CategoryValidation).Build()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/diarize", bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Wrap(err).Component("diarizer").Category(xerrors.CategoryNetwork).Build()
	}
	req.Header.Set("Content-Type", "application/json")
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(err).Component("diarizer").Category(xerrors.CategoryNetwork).Build()
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, xerrors.Wrap(err).Component("diarizer").Category(xerrors.CategoryNetwork).Build()
	}

	if resp.StatusCode != http.StatusOK {
		logging.Error("diarizer returned non-200 status", "status_code", resp.StatusCode, "body", string(respBody))
		return nil, xerrors.Newf("diarizer returned status %d: %s", resp.StatusCode, string(respBody)).
			Component("diarizer").
			Category(xerrors.CategoryNetwork).
			Build()
	}

	var parsed diarizeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, xerrors.Wrap(err).Component("diarizer").Category(xerrors.CategoryValidation).
			Context("body", string(respBody)).Build()
	}

	return parsed.Turns, nil
}

func encodeSamples(samples []float32) string {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		bits := math.Float32bits(s)
		buf[i*4] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return base64.StdEncoding.EncodeToString(buf)
}
