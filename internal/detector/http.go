// Package detector provides landmarks.Detector implementations: an HTTP
// client for an external face-mesh sidecar, and static detectors for
// development and tests.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/articulate/internal/httputil"
	"github.com/banshee-data/articulate/internal/landmarks"
)

// ErrCardinalityChanged is returned when the sidecar's point count differs
// from its first response.
var ErrCardinalityChanged = errors.New("detector landmark count changed")

// Config configures an HTTPDetector.
type Config struct {
	// Endpoint is the sidecar base URL, e.g. "http://localhost:8001".
	Endpoint string

	// Timeout bounds each detection request (default: 2s).
	Timeout time.Duration

	// ContentType is sent with image bodies when the frame has none.
	ContentType string
}

// DefaultConfig returns a config for a sidecar on localhost.
func DefaultConfig() Config {
	return Config{
		Endpoint:    "http://localhost:8001",
		Timeout:     2 * time.Second,
		ContentType: "image/jpeg",
	}
}

// detectResponse is the sidecar's reply. Landmarks is null when no face was
// found. Normalized coordinates are in [0,1] and are scaled by the image
// size.
type detectResponse struct {
	Landmarks  [][2]float64 `json:"landmarks"`
	Width      float64      `json:"width"`
	Height     float64      `json:"height"`
	Normalized bool         `json:"normalized"`
}

// HTTPDetector posts raw image bytes to POST {Endpoint}/detect.
type HTTPDetector struct {
	config Config
	client httputil.HTTPClient

	mu          sync.Mutex
	cardinality int
}

// NewHTTPDetector creates a detector. A nil client uses a standard client
// with no overall timeout; per-request deadlines come from Config.Timeout.
func NewHTTPDetector(cfg Config, client httputil.HTTPClient) *HTTPDetector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "image/jpeg"
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if client == nil {
		client = httputil.NewStandardClient(0)
	}
	return &HTTPDetector{config: cfg, client: client}
}

// Detect implements landmarks.Detector.
func (d *HTTPDetector) Detect(ctx context.Context, image []byte) (landmarks.LandmarkSet, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.Endpoint+"/detect", bytes.NewReader(image))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", d.config.ContentType)
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("detect request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("detector returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("failed to decode detector response: %w", err)
	}
	if len(out.Landmarks) == 0 {
		return nil, false, nil
	}

	set := make(landmarks.LandmarkSet, len(out.Landmarks))
	for i, p := range out.Landmarks {
		if out.Normalized {
			set[i] = landmarks.Point{X: p[0] * out.Width, Y: p[1] * out.Height}
		} else {
			set[i] = landmarks.Point{X: p[0], Y: p[1]}
		}
	}

	if err := d.checkCardinality(len(set)); err != nil {
		return nil, false, err
	}
	return set, true, nil
}

// Available reports whether GET {Endpoint}/health answers 200.
func (d *HTTPDetector) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.config.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (d *HTTPDetector) checkCardinality(n int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cardinality == 0 {
		d.cardinality = n
		return nil
	}
	if n != d.cardinality {
		return fmt.Errorf("%w: got %d, want %d", ErrCardinalityChanged, n, d.cardinality)
	}
	return nil
}
