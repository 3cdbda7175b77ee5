package recognition

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// NoTextDetected is the reply the recognizer sends when no detection cleared
// its confidence floor. Such a reply is a successful round trip, not an
// error.
const NoTextDetected = "No text detected"

const defaultTimeout = 60 * time.Second

// Client talks to the recognition/translation backend. The backend accepts a
// base64 image and answers with the best OCR candidate it found.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// recognizeRequest is the outbound /api/ocr payload. The overlay is always
// requested; stored results render thumbnails from it. Backends predating
// target_lang and return_overlay ignore the extra fields.
type recognizeRequest struct {
	Image         string `json:"image"`
	TargetLang    string `json:"target_lang,omitempty"`
	ReturnOverlay bool   `json:"return_overlay"`
}

// Result is the recognizer's answer. Only text is guaranteed; translated_text
// and annotated_image arrive when the request asked for them, the remaining
// fields are absent when nothing was detected.
type Result struct {
	Text           string  `json:"text"`
	TranslatedText string  `json:"translated_text"`
	AnnotatedImage string  `json:"annotated_image"`
	Confidence     float64 `json:"confidence"`
	Engine         string  `json:"engine"`
	Mode           string  `json:"mode"`
	Error          string  `json:"error"`
}

// Detected reports whether the recognizer actually found text.
func (r *Result) Detected() bool {
	return r.Text != "" && r.Text != NoTextDetected
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Recognize sends the image for OCR and, when targetLang is non-empty, for
// translation of the recognized text. The payload goes out base64 encoded,
// matching what the backend decodes.
func (c *Client) Recognize(ctx context.Context, image []byte, targetLang string) (*Result, error) {
	reqBody, err := json.Marshal(recognizeRequest{
		Image:         base64.StdEncoding.EncodeToString(image),
		TargetLang:    targetLang,
		ReturnOverlay: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal recognition request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/ocr", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create recognition request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recognition request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read recognition response: %w", err)
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("recognizer returned status %d: %s", resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("failed to parse recognition response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("recognizer error: %s", result.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recognizer returned status %d: %s", resp.StatusCode, string(body))
	}

	slog.Debug("recognition complete",
		"engine", result.Engine,
		"mode", result.Mode,
		"confidence", result.Confidence,
		"text_length", len(result.Text))
	return &result, nil
}

// Health checks whether the recognizer is reachable and reports itself ok.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("recognizer health returned status %d", resp.StatusCode)
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to parse health response: %w", err)
	}
	if health.Status != "ok" {
		return fmt.Errorf("recognizer reports status %q", health.Status)
	}
	return nil
}
