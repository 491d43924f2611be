package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []*Notification
	fail bool
}

func (s *recordingSender) Send(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("gateway down")
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func newTestManager() (*Manager, *recordingSender, *recordingSender) {
	email := &recordingSender{}
	sms := &recordingSender{}
	mgr := NewManager(map[Channel]Sender{
		ChannelEmail: email,
		ChannelSMS:   sms,
		ChannelCall:  NewLogSender(zerolog.Nop()),
	}, nil, zerolog.Nop())
	return mgr, email, sms
}

func TestTemplateEngine_Render(t *testing.T) {
	eng := NewTemplateEngine()
	subject, body, err := eng.Render("followup-reminder", map[string]string{
		"sequence": "2",
		"date":     "2026-03-04",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "Follow-up reminder" {
		t.Errorf("subject = %q", subject)
	}
	if !strings.Contains(body, "#2") || !strings.Contains(body, "2026-03-04") {
		t.Errorf("body not rendered: %q", body)
	}
}

func TestTemplateEngine_RenderMissing(t *testing.T) {
	if _, _, err := NewTemplateEngine().Render("nope", nil); err == nil {
		t.Fatal("expected error for missing template")
	}
}

func TestTemplateEngine_RegisterOverrides(t *testing.T) {
	eng := NewTemplateEngine()
	eng.Register(Template{ID: "followup-reminder", Subject: "Hi {{name}}", Body: "x"})
	subject, _, err := eng.Render("followup-reminder", map[string]string{"name": "Asha"})
	if err != nil || subject != "Hi Asha" {
		t.Fatalf("expected overridden template, got %q %v", subject, err)
	}
}

func TestParseChannel(t *testing.T) {
	if ch, err := ParseChannel(" SMS "); err != nil || ch != ChannelSMS {
		t.Fatalf("expected sms, got %q %v", ch, err)
	}
	if _, err := ParseChannel("pigeon"); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}

func TestManager_SendRecordsOutcome(t *testing.T) {
	mgr, email, _ := newTestManager()
	n := &Notification{Channel: ChannelEmail, Recipient: "p@example.com", Body: "hello"}
	if err := mgr.Send(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Status != StatusSent || n.SentAt == nil || n.ID == "" {
		t.Fatalf("unexpected notification %+v", n)
	}
	if email.count() != 1 {
		t.Fatalf("expected 1 email, got %d", email.count())
	}
}

func TestManager_SendWithoutSenderFails(t *testing.T) {
	mgr, _, _ := newTestManager()
	n := &Notification{Channel: ChannelPush, Recipient: "dev-1", Body: "x"}
	if err := mgr.Send(context.Background(), n); err == nil {
		t.Fatal("expected error for channel without sender")
	}
	if n.Status != StatusFailed || n.Error == "" {
		t.Fatalf("expected failed status, got %+v", n)
	}
}

func TestManager_ScheduleRequiresRecipient(t *testing.T) {
	mgr, _, _ := newTestManager()
	if err := mgr.Schedule(context.Background(), &Notification{Channel: ChannelSMS}); err == nil {
		t.Fatal("expected error for missing recipient")
	}
}

func TestManager_DispatchDueReleasesOnlyDue(t *testing.T) {
	mgr, _, sms := newTestManager()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i, offset := range []time.Duration{0, 24 * time.Hour, 72 * time.Hour} {
		n := &Notification{Channel: ChannelSMS, Recipient: "+100", Body: "r", SendAt: base.Add(offset)}
		n.ID = []string{"a", "b", "c"}[i]
		if err := mgr.Schedule(ctx, n); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}

	if got := mgr.DispatchDue(ctx, base.Add(25*time.Hour)); got != 2 {
		t.Fatalf("expected 2 dispatched, got %d", got)
	}
	if sms.count() != 2 {
		t.Fatalf("expected 2 sms, got %d", sms.count())
	}
	c, _ := mgr.Get(ctx, "c")
	if c.Status != StatusScheduled {
		t.Fatalf("expected c still scheduled, got %s", c.Status)
	}
	if got := mgr.DispatchDue(ctx, base.Add(25*time.Hour)); got != 0 {
		t.Fatalf("expected nothing left due, got %d", got)
	}
}

func TestManager_ScheduleTemplate(t *testing.T) {
	mgr, _, _ := newTestManager()
	n, err := mgr.ScheduleTemplate(context.Background(), "appointment-confirmation", map[string]string{
		"doctor": "Dr. Rao", "department": "Cardiology", "date": "2026-03-02", "time": "09:00 AM",
	}, ChannelEmail, "p@example.com", time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(n.Body, "Dr. Rao") || n.Metadata["template"] != "appointment-confirmation" {
		t.Fatalf("unexpected notification %+v", n)
	}
}

func TestManager_RetryFailed(t *testing.T) {
	mgr, email, _ := newTestManager()
	ctx := context.Background()
	email.fail = true
	n := &Notification{Channel: ChannelEmail, Recipient: "p@example.com", Body: "x"}
	mgr.Send(ctx, n)

	email.fail = false
	if err := mgr.Retry(ctx, n.ID); err != nil {
		t.Fatalf("unexpected retry error: %v", err)
	}
	got, _ := mgr.Get(ctx, n.ID)
	if got.Status != StatusSent {
		t.Fatalf("expected sent after retry, got %s", got.Status)
	}
	if err := mgr.Retry(ctx, n.ID); err == nil {
		t.Fatal("expected error retrying a sent notification")
	}
	if err := mgr.Retry(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestManager_ListAndStats(t *testing.T) {
	mgr, _, _ := newTestManager()
	ctx := context.Background()
	mgr.Send(ctx, &Notification{Channel: ChannelEmail, Recipient: "a", Body: "1"})
	mgr.Send(ctx, &Notification{Channel: ChannelSMS, Recipient: "a", Body: "2"})
	mgr.Send(ctx, &Notification{Channel: ChannelPush, Recipient: "b", Body: "3"})

	if got := len(mgr.ListByRecipient(ctx, "a", 0)); got != 2 {
		t.Fatalf("expected 2 for a, got %d", got)
	}
	if got := len(mgr.ListByRecipient(ctx, "a", 1)); got != 1 {
		t.Fatalf("expected limit 1, got %d", got)
	}
	stats := mgr.Stats()
	if stats[StatusSent] != 2 || stats[StatusFailed] != 1 {
		t.Fatalf("unexpected stats %v", stats)
	}
}

func TestManager_ConcurrentSend(t *testing.T) {
	mgr, email, _ := newTestManager()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mgr.Send(context.Background(), &Notification{Channel: ChannelEmail, Recipient: "c", Body: "x"})
		}()
	}
	wg.Wait()
	if email.count() != 50 {
		t.Fatalf("expected 50 sends, got %d", email.count())
	}
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	mgr, _, sms := newTestManager()
	ctx, cancel := context.WithCancel(context.Background())
	mgr.Schedule(ctx, &Notification{Channel: ChannelSMS, Recipient: "+1", Body: "due"})

	done := make(chan struct{})
	go func() {
		mgr.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for sms.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("scheduled notification never dispatched")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHandler_SendAndGet(t *testing.T) {
	mgr, _, _ := newTestManager()
	h := NewHandler(mgr)
	e := echo.New()

	body := `{"channel":"email","recipient":"h@example.com","subject":"s","body":"b"}`
	req := httptest.NewRequest(http.MethodPost, "/notifications", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.HandleSend(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var created Notification
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != StatusSent {
		t.Fatalf("expected sent, got %s", created.Status)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(created.ID)
	if err := h.HandleGet(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_SendBadChannel(t *testing.T) {
	h := NewHandler(NewManager(nil, nil, zerolog.Nop()))
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/notifications", strings.NewReader(`{"channel":"fax","recipient":"x"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err := h.HandleSend(e.NewContext(req, httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_ListRequiresRecipient(t *testing.T) {
	h := NewHandler(NewManager(nil, nil, zerolog.Nop()))
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
	err := h.HandleList(e.NewContext(req, httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_RetryUnknown(t *testing.T) {
	h := NewHandler(NewManager(nil, nil, zerolog.Nop()))
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("missing")
	err := h.HandleRetry(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}
