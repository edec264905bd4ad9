// Package azureface talks to the Azure Face REST API.
package azureface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/faceverify/internal/logging"
	"github.com/example/faceverify/internal/recognition"
)

const (
	detectPath = "/face/v1.0/detect"
	verifyPath = "/face/v1.0/verify"
	keyHeader  = "Ocp-Apim-Subscription-Key"

	// maxErrorBody caps how much of a failed response is copied into errors.
	maxErrorBody = 1024
)

// Options configures a Client.
type Options struct {
	Endpoint         string
	Key              string
	RecognitionModel string
	DetectionModel   string
	Timeout          time.Duration
	HTTPClient       *http.Client
}

// Client implements recognition.Client against an Azure Face resource.
type Client struct {
	endpoint         string
	key              string
	recognitionModel string
	detectionModel   string
	http             *http.Client
	logger           *zap.Logger
}

var _ recognition.Client = (*Client)(nil)

// NewClient builds a Client. The HTTP timeout is the only deadline applied to
// recognition calls.
func NewClient(opts Options, logger *zap.Logger) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		endpoint:         strings.TrimRight(opts.Endpoint, "/"),
		key:              opts.Key,
		recognitionModel: opts.RecognitionModel,
		detectionModel:   opts.DetectionModel,
		http:             httpClient,
		logger:           logger.Named("azureface"),
	}
}

type detectedFace struct {
	FaceID        string                    `json:"faceId"`
	FaceRectangle recognition.FaceRectangle `json:"faceRectangle"`
}

type verifyRequest struct {
	FaceID1 string `json:"faceId1"`
	FaceID2 string `json:"faceId2"`
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Detect returns the faces found in image in service order. An image without faces
// yields an empty slice, not an error.
func (c *Client) Detect(ctx context.Context, image []byte) ([]recognition.DetectedFace, error) {
	query := url.Values{}
	query.Set("returnFaceId", "true")
	query.Set("returnFaceLandmarks", "false")
	if c.recognitionModel != "" {
		query.Set("recognitionModel", c.recognitionModel)
	}
	if c.detectionModel != "" {
		query.Set("detectionModel", c.detectionModel)
	}

	var faces []detectedFace
	err := c.do(ctx, detectPath+"?"+query.Encode(), "application/octet-stream", bytes.NewReader(image), &faces)
	if err != nil {
		wrapped := logging.NewOperationError("azureface.detect", "", err)
		c.logger.Error("face detection failed", zap.Error(wrapped), zap.Int("image_bytes", len(image)))
		return nil, wrapped
	}

	result := make([]recognition.DetectedFace, 0, len(faces))
	for _, f := range faces {
		result = append(result, recognition.DetectedFace{FaceID: f.FaceID, FaceRectangle: f.FaceRectangle})
	}
	return result, nil
}

// Verify compares two face ids.
func (c *Client) Verify(ctx context.Context, faceID1, faceID2 string) (*recognition.Verdict, error) {
	body, err := json.Marshal(verifyRequest{FaceID1: faceID1, FaceID2: faceID2})
	if err != nil {
		return nil, logging.NewOperationError("azureface.verify", "", err)
	}

	var verdict recognition.Verdict
	if err := c.do(ctx, verifyPath, "application/json", bytes.NewReader(body), &verdict); err != nil {
		wrapped := logging.NewOperationError("azureface.verify", "", err)
		c.logger.Error("face verification failed", zap.Error(wrapped))
		return nil, wrapped
	}
	return &verdict, nil
}

func (c *Client) do(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(keyHeader, c.key)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not decode response: %w", err)
	}
	return nil
}

// readErrorBody extracts the service error message, falling back to the raw body.
func readErrorBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return "unreadable body"
	}
	var apiErr apiError
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
		if apiErr.Error.Code != "" {
			return apiErr.Error.Code + ": " + apiErr.Error.Message
		}
		return apiErr.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
