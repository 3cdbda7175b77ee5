package recognition

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_Recognize(t *testing.T) {
	image := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0x01}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/ocr" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type, got %q", ct)
		}

		var req struct {
			Image         string `json:"image"`
			TargetLang    string `json:"target_lang"`
			ReturnOverlay bool   `json:"return_overlay"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		decoded, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			t.Errorf("image payload is not base64: %v", err)
		}
		if !bytes.Equal(decoded, image) {
			t.Errorf("image payload does not match input")
		}
		if req.TargetLang != "de" {
			t.Errorf("expected target lang %q in request, got %q", "de", req.TargetLang)
		}
		if !req.ReturnOverlay {
			t.Errorf("expected the overlay to be requested")
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"text":            "hello world",
			"translated_text": "hallo Welt",
			"annotated_image": "aGVsbG8=",
			"confidence":      0.91,
			"engine":          "easyocr",
			"mode":            "original_easyocr",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	result, err := client.Recognize(context.Background(), image, "de")
	if err != nil {
		t.Fatalf("Recognize error: %v", err)
	}
	if result.Text != "hello world" {
		t.Errorf("expected text %q, got %q", "hello world", result.Text)
	}
	if result.TranslatedText != "hallo Welt" {
		t.Errorf("expected translated text %q, got %q", "hallo Welt", result.TranslatedText)
	}
	if result.AnnotatedImage != "aGVsbG8=" {
		t.Errorf("expected annotated image payload, got %q", result.AnnotatedImage)
	}
	if result.Confidence != 0.91 {
		t.Errorf("expected confidence 0.91, got %v", result.Confidence)
	}
	if result.Engine != "easyocr" || result.Mode != "original_easyocr" {
		t.Errorf("unexpected metadata: %+v", result)
	}
	if !result.Detected() {
		t.Errorf("expected Detected to be true")
	}
}

func TestClient_Recognize_OmitsEmptyTargetLang(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("failed to read request: %v", err)
		}
		if bytes.Contains(body, []byte("target_lang")) {
			t.Errorf("expected target_lang to be omitted, got %s", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"text": "hello"})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	if _, err := client.Recognize(context.Background(), []byte{0x01}, ""); err != nil {
		t.Fatalf("Recognize error: %v", err)
	}
}

func TestClient_Recognize_NoTextDetected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The recognizer omits every other field in this case.
		_ = json.NewEncoder(w).Encode(map[string]any{"text": NoTextDetected})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	result, err := client.Recognize(context.Background(), []byte{0x01}, "en")
	if err != nil {
		t.Fatalf("Recognize error: %v", err)
	}
	if result.Detected() {
		t.Errorf("expected Detected to be false")
	}
	if result.Confidence != 0 || result.Engine != "" {
		t.Errorf("expected zero metadata, got %+v", result)
	}
}

func TestClient_Recognize_ErrorReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "cannot identify image file"})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	if _, err := client.Recognize(context.Background(), []byte{0x01}, "en"); err == nil {
		t.Fatalf("expected error from recognizer error reply")
	}
}

func TestClient_Recognize_NonJSONFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	if _, err := client.Recognize(context.Background(), []byte{0x01}, "en"); err == nil {
		t.Fatalf("expected error for non-JSON failure response")
	}
}

func TestClient_Health(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "message": "Server is running"})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health error: %v", err)
	}
}

func TestClient_Health_Unhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "starting"})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	if err := client.Health(context.Background()); err == nil {
		t.Fatalf("expected error for non-ok status")
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	client = NewClient(down.URL, time.Second)
	if err := client.Health(context.Background()); err == nil {
		t.Fatalf("expected error for unavailable recognizer")
	}
}
