package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func TestClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/ok":
			w.Write([]byte(`{"status":"ok"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/echo":
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			json.NewEncoder(w).Encode(body)
		case r.URL.Path == "/missing":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"job not found"}`))
		case r.URL.Path == "/plain":
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream down\n"))
		case r.URL.Path == "/empty":
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	client := NewClient(srv.URL + "/")

	t.Run("get decodes json", func(t *testing.T) {
		var resp struct{ Status string }
		if err := client.Get(ctx, "/ok", &resp); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if resp.Status != "ok" {
			t.Errorf("Status = %q", resp.Status)
		}
	})

	t.Run("post sends json body", func(t *testing.T) {
		var resp map[string]any
		if err := client.Post(ctx, "/echo", map[string]any{"job_id": "abc"}, &resp); err != nil {
			t.Fatalf("Post() error = %v", err)
		}
		if resp["job_id"] != "abc" {
			t.Errorf("echo = %v", resp)
		}
	})

	t.Run("error response is a StatusError", func(t *testing.T) {
		err := client.Get(ctx, "/missing", nil)
		var se *StatusError
		if !errors.As(err, &se) {
			t.Fatalf("expected StatusError, got %v", err)
		}
		if se.StatusCode != http.StatusNotFound || se.Message != "job not found" {
			t.Errorf("StatusError = %+v", se)
		}
	})

	t.Run("non json error body", func(t *testing.T) {
		err := client.Get(ctx, "/plain", nil)
		if err == nil || !strings.Contains(err.Error(), "(502): upstream down") {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		var resp map[string]any
		if err := client.Post(ctx, "/empty", nil, &resp); err != nil {
			t.Errorf("Post() error = %v", err)
		}
	})

	t.Run("options", func(t *testing.T) {
		c := NewClient("http://example.test", WithTimeout(time.Second))
		if c.httpClient.Timeout != time.Second {
			t.Errorf("timeout = %s", c.httpClient.Timeout)
		}
		hc := &http.Client{}
		if NewClient("x", WithHTTPClient(hc)).httpClient != hc {
			t.Error("WithHTTPClient not applied")
		}
		if c.BaseURL() != "http://example.test" {
			t.Errorf("BaseURL() = %s", c.BaseURL())
		}
	})
}

func TestOutput(t *testing.T) {
	data := struct {
		JobID    string `json:"job_id"`
		Progress int    `json:"progress_percent"`
	}{"j1", 40}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := OutputTo(&buf, OutputFormatJSON, data); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), `"job_id": "j1"`) {
			t.Errorf("json output = %s", buf.String())
		}
	})

	t.Run("yaml uses json names", func(t *testing.T) {
		var buf bytes.Buffer
		if err := OutputTo(&buf, OutputFormatYAML, data); err != nil {
			t.Fatal(err)
		}
		out := buf.String()
		if !strings.Contains(out, "job_id: j1") || !strings.Contains(out, "progress_percent: 40") {
			t.Errorf("yaml output = %s", out)
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		if err := OutputTo(&bytes.Buffer{}, "xml", data); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("set format", func(t *testing.T) {
		t.Cleanup(func() { SetOutputFormat("yaml") })
		SetOutputFormat("JSON")
		if GetOutputFormat() != OutputFormatJSON {
			t.Errorf("format = %s", GetOutputFormat())
		}
		SetOutputFormat("table")
		if GetOutputFormat() != DefaultOutput {
			t.Errorf("format = %s", GetOutputFormat())
		}
	})

	t.Run("file follows extension", func(t *testing.T) {
		dir := t.TempDir()
		yml := filepath.Join(dir, "out.yaml")
		if err := OutputToFile(data, yml); err != nil {
			t.Fatal(err)
		}
		b, _ := os.ReadFile(yml)
		if !strings.HasPrefix(string(b), "job_id: j1") {
			t.Errorf("yaml file = %s", b)
		}
		js := filepath.Join(dir, "out.json")
		if err := OutputToFile(data, js); err != nil {
			t.Fatal(err)
		}
		b, _ = os.ReadFile(js)
		if !json.Valid(b) {
			t.Errorf("json file = %s", b)
		}
	})
}

type stubEndpoint struct {
	method, path string
	init         bool
	name         string
}

func (e stubEndpoint) Route() (string, string, http.HandlerFunc) {
	return e.method, e.path, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(e.name))
	}
}

func (e stubEndpoint) RequiresInit() bool { return e.init }

func (e stubEndpoint) Command(func() string) *cobra.Command {
	return &cobra.Command{Use: e.name}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(stubEndpoint{"GET", "/health", false, "health"})
	r.Register(stubEndpoint{"GET", "/api/jobs", true, "list"})
	r.Register(stubEndpoint{"GET", "/api/jobs/{id}", true, "get"})
	r.Register(stubEndpoint{"GET", "/api/config", true, "show"})

	if len(r.Endpoints()) != 4 {
		t.Fatalf("Endpoints() = %d", len(r.Endpoints()))
	}

	t.Run("routes and init middleware", func(t *testing.T) {
		mux := http.NewServeMux()
		wrapped := 0
		r.RegisterRoutes(mux, func(next http.HandlerFunc) http.HandlerFunc {
			wrapped++
			return func(w http.ResponseWriter, req *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		})
		if wrapped != 3 {
			t.Errorf("wrapped %d handlers, want 3", wrapped)
		}

		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
		if rec.Body.String() != "health" {
			t.Errorf("/health = %d %q", rec.Code, rec.Body.String())
		}
		rec = httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/jobs/abc", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("/api/jobs/abc = %d", rec.Code)
		}
	})

	t.Run("commands grouped by path", func(t *testing.T) {
		root := r.BuildCommands(func() string { return "http://localhost" })
		names := map[string][]string{}
		for _, c := range root.Commands() {
			for _, sub := range c.Commands() {
				names[c.Name()] = append(names[c.Name()], sub.Name())
			}
			if !c.HasSubCommands() {
				names[""] = append(names[""], c.Name())
			}
		}
		if got := strings.Join(names["jobs"], ","); got != "get,list" {
			t.Errorf("jobs subcommands = %s", got)
		}
		if got := strings.Join(names["config"], ","); got != "show" {
			t.Errorf("config subcommands = %s", got)
		}
		if got := strings.Join(names[""], ","); got != "health" {
			t.Errorf("top-level commands = %s", got)
		}
	})
}

func TestCommandGroup(t *testing.T) {
	cases := map[string]string{
		"/api/jobs":              "jobs",
		"/api/jobs/{id}/process": "jobs",
		"/api/providers":         "providers",
		"/health":                "",
		"/metrics":               "",
	}
	for path, want := range cases {
		if got := commandGroup(path); got != want {
			t.Errorf("commandGroup(%q) = %q, want %q", path, got, want)
		}
	}
}
