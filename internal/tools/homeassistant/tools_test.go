package homeassistant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wardenhq/warden/internal/tools"
	"github.com/wardenhq/warden/pkg/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{BaseURL: srv.URL, Token: "token", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestGetState(t *testing.T) {
	t.Parallel()

	var gotAuth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.Method != http.MethodGet {
			t.Errorf("method=%s want GET", r.Method)
		}
		if r.URL.Path != "/api/states/light.living_room" {
			t.Errorf("path=%s want /api/states/light.living_room", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entity_id":"light.living_room","state":"on"}`))
	})

	tool := &GetStateTool{client: client}
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"entity_id":"light.living_room"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.OK() {
		t.Fatalf("expected success, got error: %s", res.Error)
	}
	if gotAuth != "Bearer token" {
		t.Fatalf("Authorization=%q want %q", gotAuth, "Bearer token")
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(res.Data), &out); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if out["state"] != "on" {
		t.Fatalf("state=%v want on", out["state"])
	}
}

func TestGetStateRequiresEntityID(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	})

	tool := &GetStateTool{client: client}
	res, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.OK() {
		t.Fatal("expected error outcome for missing entity_id")
	}
}

func TestCallServiceMergesEntityID(t *testing.T) {
	t.Parallel()

	var (
		gotPath string
		gotBody string
	)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPost {
			t.Errorf("method=%s want POST", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	})

	tool := &CallServiceTool{client: client}
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"domain":"light","service":"turn_on","entity_id":"light.living_room"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.OK() {
		t.Fatalf("expected success, got error: %s", res.Error)
	}
	if gotPath != "/api/services/light/turn_on" {
		t.Fatalf("path=%q want %q", gotPath, "/api/services/light/turn_on")
	}
	if !strings.Contains(gotBody, `"entity_id":"light.living_room"`) {
		t.Fatalf("request body missing merged entity_id: %s", gotBody)
	}
}

func TestCallServiceRequiresDomainAndService(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	})

	tool := &CallServiceTool{client: client}
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"domain":"light"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.OK() {
		t.Fatal("expected error outcome for missing service")
	}
}

func TestGetLogsTail(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/error_log" {
			t.Errorf("path=%s want /api/error_log", r.URL.Path)
		}
		_, _ = w.Write([]byte("one\ntwo\nthree\nfour\nfive\n"))
	})

	tool := &GetLogsTool{client: client}
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"tail":2}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.OK() {
		t.Fatalf("expected success, got error: %s", res.Error)
	}
	var out struct {
		Logs  string `json:"logs"`
		Lines int    `json:"lines"`
	}
	if err := json.Unmarshal([]byte(res.Data), &out); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if out.Lines != 2 {
		t.Fatalf("lines=%d want 2", out.Lines)
	}
	if out.Logs != "four\nfive" {
		t.Fatalf("logs=%q want last two lines", out.Logs)
	}
}

func TestSearchLogsCaseInsensitive(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("INFO started\nERROR zigbee timeout\nwarning: Zigbee flaky\nINFO done\n"))
	})

	tool := &SearchLogsTool{client: client}
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"search_term":"zigbee"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.OK() {
		t.Fatalf("expected success, got error: %s", res.Error)
	}
	var out struct {
		Matches []string `json:"matches"`
		Total   int      `json:"total"`
	}
	if err := json.Unmarshal([]byte(res.Data), &out); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if out.Total != 2 {
		t.Fatalf("total=%d want 2: %v", out.Total, out.Matches)
	}
}

func TestListIntegrationsGroupsByDomain(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/config/config_entries/entry" {
			t.Errorf("path=%s want /api/config/config_entries/entry", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
  {"entry_id":"a1","domain":"zha","title":"Zigbee","state":"loaded"},
  {"entry_id":"b2","domain":"mqtt","title":"MQTT","state":"loaded"},
  {"entry_id":"c3","domain":"mqtt","title":"MQTT Bridge","state":"setup_error"}
]`))
	})

	tool := &ListIntegrationsTool{client: client}
	res, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.OK() {
		t.Fatalf("expected success, got error: %s", res.Error)
	}
	var out struct {
		Integrations map[string][]struct {
			Title string `json:"title"`
		} `json:"integrations"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal([]byte(res.Data), &out); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if out.Total != 2 {
		t.Fatalf("total=%d want 2 domains", out.Total)
	}
	if len(out.Integrations["mqtt"]) != 2 {
		t.Fatalf("mqtt entries=%d want 2", len(out.Integrations["mqtt"]))
	}
}

func TestClientRejectsBadConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing base url", Config{Token: "token"}},
		{"missing token", Config{BaseURL: "http://ha.local:8123"}},
		{"bad scheme", Config{BaseURL: "ftp://ha.local", Token: "token"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewClient(tc.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("invalid token"))
	})

	tool := &GetStateTool{client: client}
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"entity_id":"light.living_room"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.OK() {
		t.Fatal("expected error outcome for 401")
	}
	if !strings.Contains(res.Error, "invalid token") {
		t.Fatalf("error=%q want body text", res.Error)
	}
}

func TestClientLimitsResponseSize(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{BaseURL: srv.URL, Token: "token", MaxResponseBytes: 16})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.ErrorLog(context.Background()); err == nil {
		t.Fatal("expected error for oversized response")
	}
}

func TestRegisterRiskTable(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	registry := tools.NewRegistry()
	if err := Register(registry, client); err != nil {
		t.Fatalf("Register: %v", err)
	}

	greens := []string{"ha_get_state", "ha_get_logs", "ha_search_logs", "ha_list_integrations", "ha_get_config"}
	for _, name := range greens {
		entry, ok := registry.Lookup(name)
		if !ok {
			t.Fatalf("tool %s not registered", name)
		}
		if entry.Risk() != models.RiskGreen {
			t.Errorf("%s risk=%s want green", name, entry.Risk())
		}
		if entry.Identity() != "home_assistant" {
			t.Errorf("%s identity=%q want home_assistant", name, entry.Identity())
		}
	}

	entry, ok := registry.Lookup("ha_call_service")
	if !ok {
		t.Fatal("ha_call_service not registered")
	}
	if entry.Risk() != models.RiskYellow {
		t.Errorf("ha_call_service risk=%s want yellow", entry.Risk())
	}
	contexts := entry.AllowedContexts()
	if len(contexts) != 2 {
		t.Fatalf("allowed contexts=%v want dev+staging", contexts)
	}
	if entry.ApprovalPrompt() == "" {
		t.Error("ha_call_service missing approval prompt")
	}
}
