package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/amparo-app/amparo/internal/storage"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":"not found"}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestClient_GetRules(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /rules": `{"rules":[{"id":1,"keywords":["recair"],"severity":6,"response":"x","requiresIntervention":false,"position":1}]}`,
	})

	resp, err := ts.client().get(ctx, "/rules")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body struct {
		Rules []storage.CrisisRule `json:"rules"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(body.Rules) != 1 || body.Rules[0].Severity != 6 {
		t.Fatalf("unexpected rules: %+v", body.Rules)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", ts.requests[0].Auth)
	}
}

func TestClient_ErrorResponseSurfaced(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.client().get(ctx, "/rules")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var body any
	err = decodeJSON(resp, &body)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %q, want status and body included", err)
	}
}

func TestClient_NoTokenOmitsAuthHeader(t *testing.T) {
	ts := newTestServer(t, map[string]string{"GET /health": `{"status":"ok"}`})
	c := ts.client()
	c.token = ""

	if _, err := c.get(ctx, "/health"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Auth != "" {
		t.Errorf("auth = %q, want empty when no token configured", ts.requests[0].Auth)
	}
}

// TestDefaultRules_Valid guards the seed set: valid severities, non-empty
// keywords and responses, gravest rules first.
func TestDefaultRules_Valid(t *testing.T) {
	rules := defaultRules()
	if len(rules) == 0 {
		t.Fatal("no default rules")
	}

	prev := storage.SeverityMax + 1
	for i, rule := range rules {
		if !rule.Severity.Valid() {
			t.Errorf("rule %d: severity %d out of range", i, rule.Severity)
		}
		if len(rule.Keywords) == 0 {
			t.Errorf("rule %d: no keywords", i)
		}
		if rule.Response == "" {
			t.Errorf("rule %d: empty response", i)
		}
		if rule.Position != i+1 {
			t.Errorf("rule %d: position = %d, want %d", i, rule.Position, i+1)
		}
		if int(rule.Severity) > int(prev) {
			t.Errorf("rule %d: severity %d higher than preceding rule", i, rule.Severity)
		}
		prev = rule.Severity
	}

	if !rules[0].RequiresIntervention {
		t.Error("the gravest rule must require intervention")
	}
}

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if got := colorize(colorRed, "alerta"); strings.Contains(got, "\033") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", got)
	}

	noColor = false
	if got := colorize(colorRed, "alerta"); !strings.Contains(got, "\033") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", got)
	}
}

func TestMessagesList_RequiresConversationID(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"messages", "list"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for missing conversation id")
	}
}
