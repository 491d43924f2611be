package intake

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func jsonContext(e *echo.Echo, method, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("clinic_id", "clinic-a")
	return c, rec
}

func TestHandler_CreateCase(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()

	c, rec := jsonContext(e, http.MethodPost, `{"symptoms":["chest pain","shortness of breath"],"symptom_details":"severe, since morning"}`)
	if err := h.CreateCase(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var resp struct {
		Case     Case `json:"case"`
		Workflow struct {
			FinalStatus string        `json:"final_status"`
			Stages      []StageRecord `json:"stages"`
			Summary     Summary       `json:"summary"`
		} `json:"workflow"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Case.ClinicID != "clinic-a" || resp.Case.Status != StatusScheduled {
		t.Errorf("unexpected case %+v", resp.Case)
	}
	if resp.Workflow.FinalStatus != RunCompleted || len(resp.Workflow.Stages) != 4 || resp.Workflow.Summary.CareLevel != 1 {
		t.Errorf("unexpected workflow %+v", resp.Workflow)
	}
}

func TestHandler_CreateCase_Invalid(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	c, _ := jsonContext(echo.New(), http.MethodPost, `{"symptoms":[]}`)

	err := h.CreateCase(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_GetCase_NotFound(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	c, _ := jsonContext(echo.New(), http.MethodGet, "")
	c.SetParamNames("id")
	c.SetParamValues("missing")

	err := h.GetCase(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_CancelCase(t *testing.T) {
	svc, _ := newTestService()
	cs, _, _ := svc.Submit(context.Background(), "clinic-a", CreateRequest{Symptoms: []string{"cough"}})
	h := NewHandler(svc)
	e := echo.New()

	c, rec := jsonContext(e, http.MethodPost, "")
	c.SetParamNames("id")
	c.SetParamValues(cs.ID)
	if err := h.CancelCase(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Case
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}

	c, _ = jsonContext(e, http.MethodPost, "")
	c.SetParamNames("id")
	c.SetParamValues(cs.ID)
	err := h.CancelCase(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}
}

func TestHandler_CancelCase_OtherClinic(t *testing.T) {
	svc, _ := newTestService()
	cs, _, _ := svc.Submit(context.Background(), "clinic-a", CreateRequest{Symptoms: []string{"cough"}})
	h := NewHandler(svc)

	c, _ := jsonContext(echo.New(), http.MethodPost, "")
	c.Set("clinic_id", "clinic-b")
	c.SetParamNames("id")
	c.SetParamValues(cs.ID)
	err := h.CancelCase(c)
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
	stored, _ := svc.GetCase(context.Background(), "clinic-a", cs.ID)
	if stored.Status == StatusCancelled {
		t.Error("another clinic must not cancel the case")
	}
}

func TestHandler_ListRuns(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	svc.Submit(ctx, "clinic-a", CreateRequest{Symptoms: []string{"cough"}})
	svc.Submit(ctx, "clinic-b", CreateRequest{Symptoms: []string{"cough"}})
	h := NewHandler(svc)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?limit=5", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("clinic_id", "clinic-a")
	if err := h.ListRuns(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Total int `json:"total"`
		Limit int `json:"limit"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 1 || resp.Limit != 5 {
		t.Errorf("unexpected page %+v", resp)
	}
}

func TestHandler_Analyze(t *testing.T) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	c, rec := jsonContext(echo.New(), http.MethodPost, `{"symptoms":["shortness of breath"],"symptom_details":"difficulty breathing"}`)
	if err := h.Analyze(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Urgency  string   `json:"urgency"`
		RedFlags []string `json:"red_flags"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Urgency != "high" && resp.Urgency != "critical" {
		t.Errorf("expected at least high, got %s", resp.Urgency)
	}
}
