package respond_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/neurocare/go-companion/internal/config"
	"github.com/neurocare/go-companion/pkg/mood"
	"github.com/neurocare/go-companion/pkg/respond"
)

func TestClient_Transcribe(t *testing.T) {
	var gotField []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("audio")
		if err != nil {
			t.Errorf("Expected audio form file: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		defer file.Close()
		if header.Filename != "utterance.wav" {
			t.Errorf("Expected utterance.wav filename, got %s", header.Filename)
		}
		gotField, _ = io.ReadAll(file)
		json.NewEncoder(w).Encode(map[string]string{"text": "  hello world \n"})
	}))
	defer srv.Close()

	c := respond.NewClient(config.Endpoints{TranscribeURL: srv.URL}, nil)

	text, err := c.Transcribe(context.Background(), []byte("fake-wav-bytes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello world" {
		t.Errorf("Expected trimmed transcript, got %q", text)
	}
	if string(gotField) != "fake-wav-bytes" {
		t.Errorf("Expected payload forwarded, got %q", gotField)
	}
}

func TestClient_TranscribeHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := respond.NewClient(config.Endpoints{TranscribeURL: srv.URL}, nil)

	if _, err := c.Transcribe(context.Background(), []byte("x")); err == nil {
		t.Error("Expected error for non-2xx response")
	}
}

func TestClient_Respond(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req respond.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Transcript != "where is Maria" {
			t.Errorf("Unexpected transcript %q", req.Transcript)
		}
		if req.Mood.State != mood.StateConcerned {
			t.Errorf("Unexpected mood %s", req.Mood.State)
		}
		json.NewEncoder(w).Encode(respond.Reply{
			Text:        "Maria is at work.",
			AudioBase64: "QUJD",
			Mime:        "audio/wav",
		})
	}))
	defer srv.Close()

	c := respond.NewClient(config.Endpoints{RespondURL: srv.URL}, nil)

	reply, err := c.Respond(context.Background(), respond.Request{
		Transcript: "where is Maria",
		Mood:       mood.Signal{State: mood.StateConcerned, Confidence: 0.7},
		Patient:    respond.Patient{Name: "Alex"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Text != "Maria is at work." {
		t.Errorf("Unexpected reply text %q", reply.Text)
	}
	if reply.Mime != "audio/wav" {
		t.Errorf("Unexpected mime %q", reply.Mime)
	}
}

func TestClient_Notify(t *testing.T) {
	var got respond.Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := respond.NewClient(config.Endpoints{NotifyURL: srv.URL}, nil)

	err := c.Notify(context.Background(), respond.Notification{
		Trigger:    "agent_reply",
		Transcript: "hello",
		Source:     "webclient",
		TS:         1700000000000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Trigger != "agent_reply" || got.TS != 1700000000000 {
		t.Errorf("Unexpected notification %+v", got)
	}
}

func TestClient_NotifyHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := respond.NewClient(config.Endpoints{NotifyURL: srv.URL}, nil)

	if err := c.Notify(context.Background(), respond.Notification{Trigger: "fusion"}); err == nil {
		t.Error("Expected error for non-2xx response")
	}
}
