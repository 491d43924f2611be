package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nidaan/triage/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:               "0",
		Env:                "development",
		StoreDriver:        config.DriverMemory,
		DefaultClinic:      "demo-clinic",
		ClinicTZ:           "UTC",
		TextgenFallback:    true,
		PipelineWorkers:    1,
		PipelineQueueSize:  4,
		PipelineJobTimeout: 0,
		ReminderInterval:   time.Minute,
		RequestTimeout:     5 * time.Second,
		BodyLimit:          "1M",
		UploadLimit:        "50M",
	}
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	a, err := buildApp(context.Background(), testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	return a
}

func serve(a *app, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	return rec
}

func TestBuildApp_Health(t *testing.T) {
	a := newTestApp(t)

	rec := serve(a, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = serve(a, http.MethodGet, "/health/db", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["storage"] != "memory" || body["queue"] == nil {
		t.Errorf("unexpected health body %v", body)
	}
}

func TestBuildApp_SubmitCase(t *testing.T) {
	a := newTestApp(t)

	rec := serve(a, http.MethodPost, "/api/v1/cases", `{"symptoms":["chest pain"],"symptom_details":"severe"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Workflow struct {
			FinalStatus string `json:"final_status"`
		} `json:"workflow"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Workflow.FinalStatus != "completed" {
		t.Errorf("expected completed workflow, got %q", resp.Workflow.FinalStatus)
	}

	rec = serve(a, http.MethodGet, "/api/v1/triage/queue", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"total_patients":1`) {
		t.Errorf("expected one queued case, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestBuildApp_DocumentVisit(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.start(ctx)
	defer a.jobs.Stop(context.Background())

	rec := serve(a, http.MethodPost, "/api/v1/visits", `{"patient_id":"patient-1","language_code":"en"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var v struct {
		ID string `json:"visit_id"`
	}
	json.Unmarshal(rec.Body.Bytes(), &v)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/visits/"+v.ID+"/audio", strings.NewReader("Mild cough for two days."))
	req.Header.Set("Content-Type", "text/plain")
	up := httptest.NewRecorder()
	a.echo.ServeHTTP(up, req)
	if up.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", up.Code, up.Body.String())
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec = serve(a, http.MethodGet, "/api/v1/visits/"+v.ID+"/status", "")
		if strings.Contains(rec.Body.String(), `"COMPLETED"`) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("visit did not complete: %s", rec.Body.String())
}

func TestBuildApp_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.StoreDriver = "sqlite"
	if _, err := buildApp(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Error("expected an error for an unknown store driver")
	}
}

func TestRulesCheckCommand(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"rules", "check"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "embedded catalogue: ok") {
		t.Errorf("unexpected output %q", out.String())
	}

	cmd = rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"rules", "check", "does-not-exist.yaml"})
	if err := cmd.Execute(); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestClassifyCommand(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"classify", "chest pain", "--details", "since morning"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got struct {
		Urgency  string   `json:"urgency"`
		RedFlags []string `json:"red_flags"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Urgency != "critical" || len(got.RedFlags) == 0 {
		t.Errorf("unexpected analysis %+v", got)
	}
}
