package stt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/holoboxlabs/voicebridge/pkg/transcode"
)

func testWaveform() *transcode.Waveform {
	return &transcode.Waveform{
		PCM:        make([]byte, 2048),
		SampleRate: 16000,
		Channels:   1,
	}
}

func fastOpts(url string) []Option {
	return []Option{
		WithURL(url),
		WithBackoff(time.Millisecond),
	}
}

func TestTranscribeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("expected multipart form: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"transcript":" what is the rent ","detected_language":"en"}`))
	}))
	defer srv.Close()

	client := New(fastOpts(srv.URL)...)
	result, err := client.Transcribe(context.Background(), testWaveform(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Text != "what is the rent" {
		t.Errorf("Text = %q", result.Text)
	}
	if result.Language != "en" {
		t.Errorf("Language = %q, want en", result.Language)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
}

func TestTranscribeRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"transcript":"hello there","detected_language":"en"}`))
	}))
	defer srv.Close()

	client := New(fastOpts(srv.URL)...)
	result, err := client.Transcribe(context.Background(), testWaveform(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
	if calls.Load() != 3 {
		t.Errorf("backend calls = %d, want 3", calls.Load())
	}
	if result.Text != "hello there" {
		t.Errorf("Text = %q", result.Text)
	}
}

func TestTranscribeAllAttemptsFail(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(fastOpts(srv.URL)...)
	result, err := client.Transcribe(context.Background(), testWaveform(), "")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrNoTranscript) {
		t.Errorf("expected ErrNoTranscript, got %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result, got %+v", result)
	}
	if calls.Load() != 3 {
		t.Errorf("backend calls = %d, want 3", calls.Load())
	}
}

func TestTranscribeEmptyTranscriptRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Write([]byte(`{"transcript":"","detected_language":"en"}`))
			return
		}
		w.Write([]byte(`{"transcript":"second try","detected_language":"en"}`))
	}))
	defer srv.Close()

	client := New(fastOpts(srv.URL)...)
	result, err := client.Transcribe(context.Background(), testWaveform(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", result.Attempts)
	}
}

func TestDetectedLanguagePrecedence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"transcript":"namaste","detected_language":"hi"}`))
	}))
	defer srv.Close()

	client := New(fastOpts(srv.URL)...)
	result, err := client.Transcribe(context.Background(), testWaveform(), "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Language != "hi" {
		t.Errorf("Language = %q, want hi (detected wins over hint)", result.Language)
	}
}

func TestLanguageHintForwarding(t *testing.T) {
	tests := []struct {
		name     string
		hint     string
		wantLang string // expected form value, "" means field absent
	}{
		{name: "no hint", hint: "", wantLang: ""},
		{name: "english hint omitted", hint: "en", wantLang: ""},
		{name: "english hint with spaces omitted", hint: " EN ", wantLang: ""},
		{name: "other hint forwarded", hint: "hi", wantLang: "hi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotLang string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				r.ParseMultipartForm(1 << 20)
				gotLang = r.FormValue("lang")
				w.Write([]byte(`{"transcript":"ok","detected_language":""}`))
			}))
			defer srv.Close()

			client := New(fastOpts(srv.URL)...)
			if _, err := client.Transcribe(context.Background(), testWaveform(), tt.hint); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if gotLang != tt.wantLang {
				t.Errorf("lang field = %q, want %q", gotLang, tt.wantLang)
			}
		})
	}
}

func TestHintFallbackWhenNoDetection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"transcript":"bonjour","detected_language":""}`))
	}))
	defer srv.Close()

	client := New(fastOpts(srv.URL)...)
	result, err := client.Transcribe(context.Background(), testWaveform(), "fr")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Language != "fr" {
		t.Errorf("Language = %q, want fr (hint fallback)", result.Language)
	}
}
