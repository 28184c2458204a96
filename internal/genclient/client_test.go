package genclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGenerate_SendsRequestAndStreamsBody(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/generate" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		if accept := r.Header.Get("Accept"); accept != "application/x-ndjson" {
			t.Errorf("Accept = %q", accept)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		io.WriteString(w, `{"type":"done","resultingArtifactSummary":{"files":["a.ts"]}}`+"\n")
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL + "/", APIKey: "sk-test"})
	body, err := c.Generate(context.Background(), Request{ContextID: "app", InstructionText: "build it", ToolsEnabled: true})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)
	if !strings.Contains(string(data), `"type":"done"`) {
		t.Errorf("body = %q", data)
	}
	if got.ContextID != "app" || got.InstructionText != "build it" || !got.ToolsEnabled {
		t.Errorf("request = %+v", got)
	}
}

func TestGenerate_NoAPIKeyOmitsHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("unexpected Authorization header")
		}
	}))
	defer srv.Close()

	body, err := New(Options{BaseURL: srv.URL}).Generate(context.Background(), Request{})
	if err != nil {
		t.Fatal(err)
	}
	body.Close()
}

func TestGenerate_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, "  out of credits  ")
	}))
	defer srv.Close()

	_, err := New(Options{BaseURL: srv.URL}).Generate(context.Background(), Request{})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if se.Code != http.StatusTooManyRequests || se.Body != "out of credits" {
		t.Errorf("StatusError = %+v", se)
	}
	if !strings.Contains(err.Error(), "genclient: generate: status 429: out of credits") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestGenerate_LongErrorBodyTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, strings.Repeat("x", 4096))
	}))
	defer srv.Close()

	_, err := New(Options{BaseURL: srv.URL}).Generate(context.Background(), Request{})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v", err)
	}
	if len(se.Body) != maxErrorBody {
		t.Errorf("body length = %d, want %d", len(se.Body), maxErrorBody)
	}
}

func TestGenerate_ContextCancelAbortsStream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"type":"tool_call","id":"1","name":"write_file"}`+"\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	body, err := New(Options{BaseURL: srv.URL}).Generate(ctx, Request{})
	if err != nil {
		t.Fatal(err)
	}
	defer body.Close()

	buf := make([]byte, 256)
	if _, err := body.Read(buf); err != nil {
		t.Fatalf("first read: %v", err)
	}
	cancel()

	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(body)
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Error("expected read error after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read did not abort after cancel")
	}
}

func TestFetchArtifact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/contexts/my app/files" {
			t.Errorf("path = %q", r.URL.Path)
		}
		io.WriteString(w, `{"files":[{"path":"src/App.tsx","content":"export {}"}],"updatedAt":"2026-02-01T10:00:00Z"}`)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: "http://unused.invalid", ArtifactsBaseURL: srv.URL})
	art, err := c.FetchArtifact(context.Background(), "my app")
	if err != nil {
		t.Fatalf("FetchArtifact: %v", err)
	}
	if len(art.Files) != 1 || art.Files[0].Path != "src/App.tsx" {
		t.Errorf("files = %+v", art.Files)
	}
	if art.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not decoded")
	}
}

func TestFetchArtifact_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"not found", http.StatusNotFound, "no such context", "status 404"},
		{"bad json", http.StatusOK, "{", "decode artifact"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := New(Options{BaseURL: srv.URL}).FetchArtifact(context.Background(), "app")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want to contain %q", err, tt.wantErr)
			}
		})
	}
}
