package sensors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dotsetgreg/dotcompanion/pkg/config"
	"github.com/dotsetgreg/dotcompanion/pkg/faces"
	"github.com/dotsetgreg/dotcompanion/pkg/perception"
)

var (
	// ErrNoFrame is returned when the camera delivered no frame.
	ErrNoFrame = perception.ErrNoFrame
	// ErrNoFace is returned by Capture when the frame holds no usable face.
	ErrNoFace = errors.New("no face detected")
)

// VisionClient talks to the vision sidecar that owns the camera and runs
// face detection, embedding and emotion classification.
type VisionClient struct {
	baseURL     string
	cameraIndex int
	httpClient  *http.Client
}

func NewVisionClient(cfg config.SensorsConfig) *VisionClient {
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &VisionClient{
		baseURL:     strings.TrimRight(cfg.VisionURL, "/"),
		cameraIndex: cfg.CameraIndex,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Ping checks that the sidecar is up and its camera is open.
func (c *VisionClient) Ping(ctx context.Context) error {
	resp, err := c.get(ctx, "/health")
	if err != nil {
		return fmt.Errorf("vision sidecar unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("vision sidecar not ready: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Observe grabs one frame and returns the faces found in it.
func (c *VisionClient) Observe(ctx context.Context) (perception.Observation, error) {
	resp, err := c.get(ctx, "/observe")
	if err != nil {
		return perception.Observation{}, fmt.Errorf("observe: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusServiceUnavailable:
		return perception.Observation{}, ErrNoFrame
	default:
		return perception.Observation{}, fmt.Errorf("observe: status %d", resp.StatusCode)
	}

	var obs perception.Observation
	if err := json.NewDecoder(resp.Body).Decode(&obs); err != nil {
		return perception.Observation{}, fmt.Errorf("decode observation: %w", err)
	}
	return obs, nil
}

type captureResponse struct {
	Embedding faces.Embedding `json:"embedding"`
}

// Capture grabs one frame for face registration and returns the embedding of
// its most prominent face.
func (c *VisionClient) Capture(ctx context.Context) (faces.Embedding, error) {
	resp, err := c.get(ctx, "/capture")
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		return nil, ErrNoFace
	case http.StatusServiceUnavailable:
		return nil, ErrNoFrame
	default:
		return nil, fmt.Errorf("capture: status %d", resp.StatusCode)
	}

	var out captureResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode capture: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, ErrNoFace
	}
	return out.Embedding, nil
}

func (c *VisionClient) get(ctx context.Context, path string) (*http.Response, error) {
	q := url.Values{}
	q.Set("camera", strconv.Itoa(c.cameraIndex))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.httpClient.Do(req)
}
