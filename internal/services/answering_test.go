package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/OmChillure/medchat/internal/models"
	"github.com/OmChillure/medchat/internal/services"
)

func TestAnsweringClientAsk(t *testing.T) {
	var gotReq models.QueryRequest
	var gotContentType, gotMethod, gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"query":"Hello","results":[{"id":"d1","summary":"s","full_text":"f"}],"answer":"Hi there"}`))
	}))
	defer srv.Close()

	client := services.NewAnsweringClient(srv.URL + "/")
	res, err := client.Ask(context.Background(), "Hello", 3)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}

	if gotMethod != http.MethodPost || gotPath != "/query" {
		t.Errorf("request = %s %s, want POST /query", gotMethod, gotPath)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotContentType)
	}
	if gotReq.Query != "Hello" || gotReq.K != 3 {
		t.Errorf("request body = %+v, want {Hello 3}", gotReq)
	}
	if res.Answer == nil || *res.Answer != "Hi there" {
		t.Errorf("Answer = %v, want Hi there", res.Answer)
	}
	if len(res.Results) != 1 || res.Results[0].FullText != "f" {
		t.Errorf("Results = %+v", res.Results)
	}
}

func TestAnsweringClientAskMissingAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"query":"Hello","results":[],"answer":null,"error":"boom"}`))
	}))
	defer srv.Close()

	res, err := services.NewAnsweringClient(srv.URL).Ask(context.Background(), "Hello", 3)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if res.Answer != nil {
		t.Errorf("Answer = %q, want nil", *res.Answer)
	}
	if got := res.AnswerText("No response."); got != "No response." {
		t.Errorf("AnswerText() = %q", got)
	}
}

func TestAnsweringClientAskNonStringAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"query":"Hello","results":[],"answer":42}`))
	}))
	defer srv.Close()

	res, err := services.NewAnsweringClient(srv.URL).Ask(context.Background(), "Hello", 3)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if got := res.AnswerText("No response."); got != "42" {
		t.Errorf("AnswerText() = %q, want %q", got, "42")
	}
}

func TestAnsweringClientAskFailures(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		closed     bool
		wantStatus int
	}{
		{
			name: "client error status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "bad query", http.StatusUnprocessableEntity)
			},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name: "server error status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "down", http.StatusInternalServerError)
			},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
		},
		{
			name:   "unreachable endpoint",
			closed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := tt.handler
			if handler == nil {
				handler = func(http.ResponseWriter, *http.Request) {}
			}
			srv := httptest.NewServer(handler)
			url := srv.URL
			if tt.closed {
				srv.Close()
			} else {
				defer srv.Close()
			}

			_, err := services.NewAnsweringClient(url).Ask(context.Background(), "Bad", 3)
			if !errors.Is(err, services.ErrFetchFailed) {
				t.Fatalf("Ask() error = %v, want ErrFetchFailed", err)
			}

			var te *services.TransportError
			if !errors.As(err, &te) {
				t.Fatalf("Ask() error type = %T, want *TransportError", err)
			}
			if te.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", te.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestAnsweringClientHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"hello":"welcome"}`))
	}))
	defer srv.Close()

	got, err := services.NewAnsweringClient(srv.URL).Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if got != "welcome" {
		t.Errorf("Health() = %q, want welcome", got)
	}
}
