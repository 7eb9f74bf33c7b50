package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/holoboxlabs/voicebridge/pkg/convo"
)

func TestBuildMessages(t *testing.T) {
	window := []convo.Turn{
		{Role: convo.RoleUser, Text: "how big is unit 4"},
		{Role: convo.RoleAssistant, Text: "Unit 4 is 82 square meters."},
	}

	messages := BuildMessages("", window, "and the rent?")

	if len(messages) != 4 {
		t.Fatalf("got %d messages, want 4", len(messages))
	}
	if messages[0].Role != RoleSystem || messages[0].Content != DefaultSystemPrompt {
		t.Errorf("messages[0] = {%s %q}, want default system prompt", messages[0].Role, messages[0].Content)
	}
	if messages[1].Role != RoleUser || messages[1].Content != "how big is unit 4" {
		t.Errorf("messages[1] = {%s %q}", messages[1].Role, messages[1].Content)
	}
	if messages[2].Role != RoleAssistant {
		t.Errorf("messages[2].Role = %s, want assistant", messages[2].Role)
	}
	if messages[3].Role != RoleUser || messages[3].Content != "and the rent?" {
		t.Errorf("messages[3] = {%s %q}", messages[3].Role, messages[3].Content)
	}
}

func TestBuildMessagesCustomSystem(t *testing.T) {
	messages := BuildMessages("be terse", nil, "hi")
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}
	if messages[0].Content != "be terse" {
		t.Errorf("system = %q", messages[0].Content)
	}
}

func TestReformatDecimals(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "simple decimal", in: "is it 2.5 bhk", want: "is it 2(5) bhk"},
		{name: "price", in: "$2.100", want: "$2(100)"},
		{name: "multiple", in: "1.5 or 2.5", want: "1(5) or 2(5)"},
		{name: "no decimal unchanged", in: "how much is rent", want: "how much is rent"},
		{name: "trailing dot unchanged", in: "room 4.", want: "room 4."},
		{name: "empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReformatDecimals(tt.in); got != tt.want {
				t.Errorf("ReformatDecimals(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	client, err := New(WithBaseURL(url), WithModel("test-model"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func TestCompleteSuccess(t *testing.T) {
	var gotPayload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Write([]byte(`{"model":"test-model","choices":[{"message":{"role":"assistant","content":" The rent is 900 euros. "}}]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	result, err := client.Complete(context.Background(), BuildMessages("", nil, "rent?"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Text != "The rent is 900 euros." {
		t.Errorf("Text = %q", result.Text)
	}
	if gotPayload["model"] != "test-model" {
		t.Errorf("payload model = %v", gotPayload["model"])
	}
	if gotPayload["max_tokens"] != float64(60) {
		t.Errorf("payload max_tokens = %v, want 60", gotPayload["max_tokens"])
	}
	if gotPayload["temperature"] != 0.1 {
		t.Errorf("payload temperature = %v, want 0.1", gotPayload["temperature"])
	}
}

func TestCompleteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"model overloaded","code":"overloaded"}}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Complete(context.Background(), BuildMessages("", nil, "hi"))

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != 500 || apiErr.Message != "model overloaded" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if !apiErr.IsServerError() {
		t.Error("expected IsServerError")
	}
}

func TestCompleteTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := newTestClient(t, url)
	_, err := client.Complete(context.Background(), BuildMessages("", nil, "hi"))

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestCompleteMalformedResponse(t *testing.T) {
	t.Run("invalid json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}))
		defer srv.Close()

		client := newTestClient(t, srv.URL)
		_, err := client.Complete(context.Background(), BuildMessages("", nil, "hi"))
		if !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("expected ErrMalformedResponse, got %v", err)
		}
	})

	t.Run("no choices", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"model":"m","choices":[]}`))
		}))
		defer srv.Close()

		client := newTestClient(t, srv.URL)
		_, err := client.Complete(context.Background(), BuildMessages("", nil, "hi"))
		if !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("expected ErrMalformedResponse, got %v", err)
		}
	})
}

func TestCompleteAsync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"m","choices":[{"message":{"role":"assistant","content":"hello"}}]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	completion := <-client.CompleteAsync(context.Background(), BuildMessages("", nil, "hi"))
	if completion.Err != nil {
		t.Fatalf("unexpected error: %v", completion.Err)
	}
	if completion.Result.Text != "hello" {
		t.Errorf("Text = %q", completion.Result.Text)
	}
}

func TestNewRequiresModel(t *testing.T) {
	if _, err := New(WithModel("")); !errors.Is(err, ErrNoModel) {
		t.Errorf("expected ErrNoModel, got %v", err)
	}
}
