// Package respond orchestrates the reply flow for finalized utterances:
// transcription, mood and prosody merging, the reply-composition call,
// caregiver notification and playback hand-off.
package respond

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/neurocare/go-companion/internal/config"
	"github.com/neurocare/go-companion/internal/httpc"
	"github.com/neurocare/go-companion/pkg/mood"
)

// ProsodyPayload is the prosody block sent to the reply service: the
// utterance's locally computed features overlaid with the latest
// streamed snapshot fields.
type ProsodyPayload struct {
	AvgRMS     float64 `json:"avg_rms"`
	F0Mean     float64 `json:"f0_mean"`
	F0Std      float64 `json:"f0_std"`
	ZCR        float64 `json:"zcr"`
	TS         float64 `json:"ts"`
	DurationMs int     `json:"duration_ms"`
	MaxRMS     float64 `json:"max_rms"`
}

// Request is the reply-composition request body.
type Request struct {
	Mood       mood.Signal     `json:"mood"`
	Prosody    *ProsodyPayload `json:"prosody"`
	Transcript string          `json:"transcript"`
	Patient    Patient         `json:"patient"`
}

// Patient identifies who the agent is speaking with.
type Patient struct {
	Name string `json:"name"`
}

// Reply is the reply-composition response body.
type Reply struct {
	Text        string `json:"text"`
	AudioBase64 string `json:"audioBase64"`
	Mime        string `json:"mime,omitempty"`
}

// Notification is the fire-and-forget caregiver alert body.
type Notification struct {
	Trigger    string      `json:"trigger"`
	Transcript string      `json:"transcript"`
	ReplyText  string      `json:"replyText,omitempty"`
	Mood       mood.Signal `json:"mood"`
	Source     string      `json:"source"`
	TS         int64       `json:"ts"`
	Session    string      `json:"session,omitempty"`
	Utterance  int64       `json:"utterance,omitempty"`
}

// Services is what the pipeline needs from the external collaborators.
type Services interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
	Respond(ctx context.Context, req Request) (Reply, error)
	Notify(ctx context.Context, n Notification) error
}

// Client talks to the transcription, reply and notification services.
type Client struct {
	http   *http.Client
	eps    config.Endpoints
	logger *slog.Logger
}

// NewClient creates a service client using the shared HTTP defaults.
func NewClient(eps config.Endpoints, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:   httpc.Client,
		eps:    eps,
		logger: logger.With("component", "respond.client"),
	}
}

// Transcribe posts the WAV payload as multipart form data and returns
// the transcript text. A non-2xx response is a failure.
func (c *Client) Transcribe(ctx context.Context, wav []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("respond: build form: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("respond: write form: %w", err)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.eps.TranscribeURL, &body)
	if err != nil {
		return "", fmt.Errorf("respond: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("respond: transcribe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("respond: transcribe HTTP %d", resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("respond: transcribe decode: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

// Respond calls the reply-composition service.
func (c *Client) Respond(ctx context.Context, r Request) (Reply, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return Reply{}, fmt.Errorf("respond: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.eps.RespondURL, bytes.NewReader(payload))
	if err != nil {
		return Reply{}, fmt.Errorf("respond: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("respond: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Reply{}, fmt.Errorf("respond: HTTP %d", resp.StatusCode)
	}

	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return Reply{}, fmt.Errorf("respond: decode: %w", err)
	}
	return reply, nil
}

// Notify posts a caregiver notification. The response body is ignored;
// only transport-level and HTTP-level failures are reported, and the
// caller treats those as log-only.
func (c *Client) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("respond: marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.eps.NotifyURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("respond: build notification: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("respond: notify: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("respond: notify HTTP %d", resp.StatusCode)
	}
	return nil
}
