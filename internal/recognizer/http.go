package recognizer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/scribeforge/transcribe-orchestrator/internal/config"
	"github.com/scribeforge/transcribe-orchestrator/internal/logging"
	"github.com/scribeforge/transcribe-orchestrator/internal/xerrors"
)

// HTTPRecognizer calls a local or remote transcription sidecar over a
// bespoke JSON protocol: float32 PCM samples base64-encoded in the request
// body, a transcription record in the response.
type HTTPRecognizer struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPRecognizer builds an HTTPRecognizer from settings.
func NewHTTPRecognizer(cfg config.RecognizerSettings) *HTTPRecognizer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPRecognizer{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type transcribeRequest struct {
	SamplesB64     string  `json:"samples_b64"`
	SampleRate     int     `json:"sample_rate"`
	LanguageHint   string  `json:"language_hint,omitempty"`
	Temperature    float64 `json:"temperature"`
	WordTimestamps bool    `json:"word_timestamps"`
}

// Transcribe posts samples to the sidecar and decodes its JSON response.
func (r *HTTPRecognizer) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts Options) (Result, error) {
	payload := transcribeRequest{
		SamplesB64:     encodeSamples(samples),
		SampleRate:     sampleRate,
		LanguageHint:   opts.LanguageHint,
		Temperature:    opts.Temperature,
		WordTimestamps: opts.WordTimestamps,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, xerrors.Wrap(err).Component("recognizer").Category(xerrors.CategoryValidation).Build()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/transcribe", bytes.NewReader(body))
	if err != nil {
		return Result{}, xerrors.Wrap(err).Component("recognizer").Category(xerrors.CategoryNetwork).Build()
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, handleNetworkError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, xerrors.Wrap(err).Component("recognizer").Category(xerrors.CategoryNetwork).Build()
	}

	if resp.StatusCode != http.StatusOK {
		logging.Error("recognizer returned non-200 status", "status_code", resp.StatusCode, "body", string(respBody))
		return Result{}, xerrors.Newf("recognizer returned status %d: %s", resp.StatusCode, string(respBody)).
			Component("recognizer").
			Category(xerrors.CategoryNetwork).
			Build()
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Result{}, xerrors.Wrap(err).Component("recognizer").Category(xerrors.CategoryValidation).
			Context("body", string(respBody)).Build()
	}

	return result, nil
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

func handleNetworkError(err error) error {
	return xerrors.Wrap(err).Component("recognizer").Category(xerrors.CategoryNetwork).
		Context("detail", fmt.Sprintf("%v", err)).Build()
}
