package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/zulandar/storyforge/internal/config"
)

// fakeGenerationServer answers every generation request with a clean
// write_file stream and serves an empty artifact.
func fakeGenerationServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var requests atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/generate", func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintf(w, `{"type":"tool_call","id":"t%d","name":"write_file","arguments":{"path":"src/App.tsx"}}`+"\n", n)
		fmt.Fprintf(w, `{"type":"tool_result","toolCallId":"t%d","success":true}`+"\n", n)
		fmt.Fprint(w, `{"type":"done","resultingArtifactSummary":{"files":["src/App.tsx"]}}`+"\n")
	})
	mux.HandleFunc("GET /v1/contexts/{id}/files", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"files":[{"path":"src/App.tsx","content":"export {}"}],"updatedAt":"2026-01-01T00:00:00Z"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &requests
}

func testConfig(t *testing.T, dir, baseURL string) string {
	t.Helper()
	return writeFile(t, dir, "storyforge.yaml", fmt.Sprintf(`
context_id: shop-app
generation:
  base_url: %s
orchestrator:
  settle_ms: 1
  failure_delay_ms: 1
database:
  driver: sqlite
  path: %s
`, baseURL, filepath.Join(dir, "history.db")))
}

func TestBuild_EndToEnd(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	srv, requests := fakeGenerationServer(t)
	dir := t.TempDir()
	cfgPath := testConfig(t, dir, srv.URL)
	backlogPath := writeFile(t, dir, "backlog.yaml", testBacklog)

	out, err := runCmd(t, "build", "-c", cfgPath, "-b", backlogPath)
	if err != nil {
		t.Fatalf("build failed: %v\n%s", err, out)
	}
	if got := requests.Load(); got != 3 {
		t.Errorf("generation requests = %d, want 3", got)
	}
	for _, want := range []string{
		"Build started: 3 stories in 2 epics",
		"[s1] write_file src/App.tsx",
		"[s3] Story s3 built",
		"Build completed: 3 done, 0 failed, 0 of 3 stories not built",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	// The run and its log are in the history database.
	out, err = runCmd(t, "runs", "list", "-c", cfgPath)
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	if !strings.Contains(out, "shop-app") || !strings.Contains(out, "completed") {
		t.Errorf("runs list output:\n%s", out)
	}
}

func TestBuild_GenerationUnavailable(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	dir := t.TempDir()
	cfgPath := testConfig(t, dir, srv.URL)
	backlogPath := writeFile(t, dir, "backlog.yaml", testBacklog)

	out, err := runCmd(t, "build", "-c", cfgPath, "-b", backlogPath)
	if err != nil {
		t.Fatalf("failed stories should not fail the command: %v", err)
	}
	if !strings.Contains(out, "Build completed: 0 done, 3 failed") {
		t.Errorf("output:\n%s", out)
	}
}

func TestBuild_MissingConfig(t *testing.T) {
	_, err := runCmd(t, "build", "-c", filepath.Join(t.TempDir(), "none.yaml"))
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Errorf("err = %v", err)
	}
}

func TestBuild_InvalidBacklog(t *testing.T) {
	dir := t.TempDir()
	cfgPath := testConfig(t, dir, "http://127.0.0.1:1")
	backlogPath := writeFile(t, dir, "backlog.yaml", "epics:\n  - id: a\n    stories:\n      - title: no id\n")
	_, err := runCmd(t, "build", "-c", cfgPath, "-b", backlogPath)
	if err == nil || !strings.Contains(err.Error(), "load backlog") {
		t.Errorf("err = %v", err)
	}
}

func TestStartNotifier_Disabled(t *testing.T) {
	if n := startNotifier(t.Context(), config.NotifyConfig{}, nil, nil, newLogger(new(strings.Builder), false)); n != nil {
		t.Error("no platform configured should yield no notifier")
	}
}
