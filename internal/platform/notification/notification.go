// Package notification delivers patient and staff notifications over email,
// SMS, voice call and push. Notifications are either sent immediately or
// held until their SendAt time and released by the dispatcher loop.
package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Channel is the medium a notification is delivered through.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelCall  Channel = "call"
	ChannelPush  Channel = "push"
)

// ParseChannel normalises a channel name.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(strings.ToLower(strings.TrimSpace(s))); c {
	case ChannelEmail, ChannelSMS, ChannelCall, ChannelPush:
		return c, nil
	}
	return "", fmt.Errorf("unsupported notification channel %q", s)
}

const (
	StatusScheduled = "scheduled"
	StatusSent      = "sent"
	StatusFailed    = "failed"
)

var ErrNotFound = errors.New("notification not found")

// Notification is a single outbound message.
type Notification struct {
	ID        string            `json:"id"`
	Channel   Channel           `json:"channel"`
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject,omitempty"`
	Body      string            `json:"body"`
	Priority  string            `json:"priority"`
	Status    string            `json:"status"`
	SendAt    time.Time         `json:"send_at"`
	CreatedAt time.Time         `json:"created_at"`
	SentAt    *time.Time        `json:"sent_at,omitempty"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sender delivers a notification over one channel.
type Sender interface {
	Send(ctx context.Context, n *Notification) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, n *Notification) error

func (f SenderFunc) Send(ctx context.Context, n *Notification) error { return f(ctx, n) }

// LogSender writes notifications to the log instead of delivering them. It
// stands in for real gateways in development.
type LogSender struct {
	logger zerolog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "notify").Logger()}
}

func (s *LogSender) Send(_ context.Context, n *Notification) error {
	s.logger.Info().
		Str("id", n.ID).
		Str("channel", string(n.Channel)).
		Str("recipient", n.Recipient).
		Str("subject", n.Subject).
		Msg("notification delivered")
	return nil
}

// Template is a reusable message with {{key}} placeholders.
type Template struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine renders templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewTemplateEngine creates an engine with the built-in templates.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range []Template{
		{
			ID:      "appointment-confirmation",
			Subject: "Appointment confirmed for {{date}}",
			Body:    "Your appointment with {{doctor}} ({{department}}) is confirmed for {{date}} at {{time}}.",
		},
		{
			ID:      "doctor-urgent",
			Subject: "Urgent patient assigned",
			Body:    "A {{urgency}} priority patient has been scheduled with you on {{date}} at {{time}}. Symptoms: {{symptoms}}.",
		},
		{
			ID:      "appointment-reminder",
			Subject: "Appointment tomorrow",
			Body:    "Reminder: your appointment with {{doctor}} is tomorrow at {{time}}.",
		},
		{
			ID:      "followup-reminder",
			Subject: "Follow-up reminder",
			Body:    "Reminder: your follow-up #{{sequence}} is due on {{date}}. Please let us know how you are feeling.",
		},
		{
			ID:      "doctor-followup-alert",
			Subject: "Follow-up needs attention",
			Body:    "Patient {{patient}} reported: {{response}}. Please review.",
		},
	} {
		e.templates[t.ID] = t
	}
	return e
}

// Register adds or replaces a template.
func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render fills the template's placeholders. Unknown keys are left as-is.
func (e *TemplateEngine) Render(id string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[id]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", id)
	}
	subject, body = t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// Manager sends notifications and holds scheduled ones until due.
type Manager struct {
	senders   map[Channel]Sender
	templates *TemplateEngine
	logger    zerolog.Logger
	now       func() time.Time

	mu            sync.RWMutex
	notifications map[string]*Notification
}

// NewManager constructs a Manager. Channels without a sender fail on send.
func NewManager(senders map[Channel]Sender, tpl *TemplateEngine, logger zerolog.Logger) *Manager {
	if tpl == nil {
		tpl = NewTemplateEngine()
	}
	return &Manager{
		senders:       senders,
		templates:     tpl,
		logger:        logger.With().Str("component", "notify").Logger(),
		now:           time.Now,
		notifications: make(map[string]*Notification),
	}
}

// Templates exposes the template engine.
func (m *Manager) Templates() *TemplateEngine { return m.templates }

// Schedule stores n for delivery at n.SendAt. A zero or past SendAt is sent
// on the next dispatch.
func (m *Manager) Schedule(_ context.Context, n *Notification) error {
	if n.Recipient == "" {
		return fmt.Errorf("recipient is required")
	}
	if _, err := ParseChannel(string(n.Channel)); err != nil {
		return err
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Priority == "" {
		n.Priority = "normal"
	}
	n.CreatedAt = m.now().UTC()
	if n.SendAt.IsZero() {
		n.SendAt = n.CreatedAt
	}
	n.Status = StatusScheduled

	m.mu.Lock()
	m.notifications[n.ID] = n
	m.mu.Unlock()
	return nil
}

// ScheduleTemplate renders a template and schedules the result.
func (m *Manager) ScheduleTemplate(ctx context.Context, templateID string, data map[string]string, ch Channel, recipient string, sendAt time.Time) (*Notification, error) {
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	n := &Notification{
		Channel:   ch,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		SendAt:    sendAt,
		Metadata:  map[string]string{"template": templateID},
	}
	if err := m.Schedule(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Send delivers n now and records the outcome.
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	if err := m.Schedule(ctx, n); err != nil {
		return err
	}
	return m.deliver(ctx, n)
}

func (m *Manager) deliver(ctx context.Context, n *Notification) error {
	var err error
	sender, ok := m.senders[n.Channel]
	if !ok || sender == nil {
		err = fmt.Errorf("no sender for channel %s", n.Channel)
	} else {
		err = sender.Send(ctx, n)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		n.Status = StatusFailed
		n.Error = err.Error()
		m.logger.Warn().Err(err).Str("id", n.ID).Str("channel", string(n.Channel)).Msg("notification failed")
		return err
	}
	sentAt := m.now().UTC()
	n.Status = StatusSent
	n.SentAt = &sentAt
	n.Error = ""
	return nil
}

// DispatchDue sends every scheduled notification whose SendAt is not after
// now. It returns how many were attempted.
func (m *Manager) DispatchDue(ctx context.Context, now time.Time) int {
	m.mu.RLock()
	var due []*Notification
	for _, n := range m.notifications {
		if n.Status == StatusScheduled && !n.SendAt.After(now) {
			due = append(due, n)
		}
	}
	m.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool { return due[i].SendAt.Before(due[j].SendAt) })
	for _, n := range due {
		m.deliver(ctx, n)
	}
	return len(due)
}

// Run dispatches due notifications every interval until ctx ends.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.DispatchDue(ctx, m.now()); n > 0 {
				m.logger.Debug().Int("count", n).Msg("dispatched due notifications")
			}
		}
	}
}

// Get returns a copy of the notification with id.
func (m *Manager) Get(_ context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *n
	return &out, nil
}

// ListByRecipient returns up to limit notifications for recipient ordered by
// SendAt.
func (m *Manager) ListByRecipient(_ context.Context, recipient string, limit int) []*Notification {
	m.mu.RLock()
	var out []*Notification
	for _, n := range m.notifications {
		if n.Recipient == recipient {
			cp := *n
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SendAt.Before(out[j].SendAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Retry re-sends a failed notification.
func (m *Manager) Retry(ctx context.Context, id string) error {
	m.mu.RLock()
	n, ok := m.notifications[id]
	status := ""
	if ok {
		status = n.Status
	}
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	if status != StatusFailed {
		return fmt.Errorf("notification %q is not in failed status (current: %s)", id, status)
	}
	return m.deliver(ctx, n)
}

// Stats counts notifications by status.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]int)
	for _, n := range m.notifications {
		stats[n.Status]++
	}
	return stats
}
