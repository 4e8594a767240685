package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"trackmate/internal/config"
)

// ClassifyService forwards activity snapshots to the external classification
// service and relays its JSON response verbatim. The upstream is a black box;
// nothing here inspects the model output.
type ClassifyService struct {
	client *http.Client
	cfg    config.ClassifierConfig
	log    zerolog.Logger
}

func NewClassifyService(cfg config.ClassifierConfig, log zerolog.Logger) *ClassifyService {
	return &ClassifyService{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		log:    log,
	}
}

type ClassifyResult struct {
	StatusCode int
	Body       []byte
}

// Analyze posts the base64 snapshot upstream. A transport-level failure is
// returned as an error; any HTTP response, 200 or not, is relayed as-is.
func (s *ClassifyService) Analyze(ctx context.Context, imageBase64 string) (ClassifyResult, error) {
	payload, err := json.Marshal(map[string]string{"image": imageBase64})
	if err != nil {
		return ClassifyResult{}, fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return ClassifyResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return ClassifyResult{}, fmt.Errorf("classifier unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ClassifyResult{}, fmt.Errorf("read classifier response: %w", err)
	}

	return ClassifyResult{
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}
