// Package notification delivers email and SMS messages rendered from
// templates and keeps an in-memory log of every dispatch.
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

// Channel is the delivery medium of a notification.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Built-in template ids.
const (
	TemplateHighPriority    = "triage-high-priority"
	TemplateHighPrioritySMS = "triage-high-priority-sms"
)

var ErrNotFound = errors.New("notification not found")

// Notification is a single outbound message and its delivery state.
type Notification struct {
	ID           string            `json:"id"`
	Channel      Channel           `json:"channel"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Status       string            `json:"status"`
	Attempts     int               `json:"attempts"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Template is a message with {{key}} placeholders.
type Template struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Subject string  `json:"subject"`
	Body    string  `json:"body"`
	Channel Channel `json:"channel"`
}

// TemplateEngine holds the registered templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewTemplateEngine creates an engine with the triage alert templates.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	e.Register(Template{
		ID:      TemplateHighPriority,
		Name:    "High priority triage",
		Subject: "HIGH priority triage: patient {{patient_id}}",
		Body: "<p>Patient <b>{{patient_id}}</b> was triaged as <b>{{priority_level}}</b> " +
			"with {{risk_factor_count}} of 10 risk factors (score {{cardiovascular_risk_score}}, BMI {{bmi}}).</p>" +
			"<p>Record {{record_id}}, triaged by {{triaged_by}} at {{created_at}}.</p>",
		Channel: ChannelEmail,
	})
	e.Register(Template{
		ID:      TemplateHighPrioritySMS,
		Name:    "High priority triage (SMS)",
		Body:    "Triage {{priority_level}}: patient {{patient_id}}, {{risk_factor_count}}/10 risk factors. Record {{record_id}}.",
		Channel: ChannelSMS,
	})
	return e
}

// Register adds or replaces a template.
func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

func (e *TemplateEngine) Get(id string) (Template, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.templates[id]
	return t, ok
}

// List returns the templates ordered by id.
func (e *TemplateEngine) List() []Template {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Template, 0, len(e.templates))
	for _, t := range e.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Render replaces {{key}} placeholders with data. Unknown keys stay as-is.
func (e *TemplateEngine) Render(id string, data map[string]string) (Template, error) {
	t, ok := e.Get(id)
	if !ok {
		return Template{}, fmt.Errorf("template %q not found", id)
	}
	pairs := make([]string, 0, 2*len(data))
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	t.Subject = r.Replace(t.Subject)
	t.Body = r.Replace(t.Body)
	return t, nil
}

// Manager sends notifications and records the outcome of each attempt.
type Manager struct {
	email     EmailSender
	sms       SMSSender
	templates *TemplateEngine
	logger    zerolog.Logger
	now       func() time.Time

	mu            sync.RWMutex
	notifications map[string]*Notification
}

func NewManager(email EmailSender, sms SMSSender, tpl *TemplateEngine) *Manager {
	return &Manager{
		email:         email,
		sms:           sms,
		templates:     tpl,
		logger:        zerolog.Nop(),
		now:           func() time.Time { return time.Now().UTC() },
		notifications: make(map[string]*Notification),
	}
}

func (m *Manager) SetLogger(l zerolog.Logger) { m.logger = l }

func (m *Manager) Templates() *TemplateEngine { return m.templates }

// Send delivers n and stores it whatever the outcome. The delivery error,
// if any, is returned and also kept on n.
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	if n.Recipient == "" {
		return fmt.Errorf("recipient is required")
	}
	if n.Body == "" {
		return fmt.Errorf("body is required")
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = m.now()
	n.Status = StatusPending

	m.mu.Lock()
	m.notifications[n.ID] = n
	m.mu.Unlock()

	return m.deliver(ctx, n)
}

func (m *Manager) deliver(ctx context.Context, n *Notification) error {
	var err error
	switch n.Channel {
	case ChannelEmail:
		err = m.email.SendEmail(ctx, n.Recipient, n.Subject, n.Body)
	case ChannelSMS:
		err = m.sms.SendSMS(ctx, n.Recipient, n.Body)
	default:
		err = fmt.Errorf("unsupported channel: %q", n.Channel)
	}

	m.mu.Lock()
	n.Attempts++
	if err != nil {
		n.Status = StatusFailed
		n.Error = err.Error()
	} else {
		n.Status = StatusSent
		n.Error = ""
		sentAt := m.now()
		n.SentAt = &sentAt
	}
	m.mu.Unlock()

	evt := m.logger.Info()
	if err != nil {
		evt = m.logger.Warn().Err(err)
	}
	evt.Str("notification_id", n.ID).
		Str("channel", string(n.Channel)).
		Str("template_id", n.TemplateID).
		Int("attempts", n.Attempts).
		Msg("notification " + n.Status)
	return err
}

// SendFromTemplate renders a template and sends it on the template's channel.
// The notification is returned even when delivery fails.
func (m *Manager) SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*Notification, error) {
	t, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	n := &Notification{
		Channel:      t.Channel,
		Recipient:    recipient,
		Subject:      t.Subject,
		Body:         t.Body,
		TemplateID:   templateID,
		TemplateData: data,
	}
	return n, m.Send(ctx, n)
}

func (m *Manager) Get(_ context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

// ListByRecipient returns up to limit notifications for recipient, newest first.
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

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Retry re-sends a failed notification. The notification is moved back to
// pending before delivery, so concurrent retries of the same id deliver once.
func (m *Manager) Retry(ctx context.Context, id string) (*Notification, error) {
	m.mu.Lock()
	n, ok := m.notifications[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if n.Status != StatusFailed {
		status := n.Status
		m.mu.Unlock()
		return nil, fmt.Errorf("notification %q is %s, only failed notifications can be retried", id, status)
	}
	n.Status = StatusPending
	m.mu.Unlock()

	err := m.deliver(ctx, n)
	out, _ := m.Get(ctx, id)
	return out, err
}

// Stats counts notifications by status.
func (m *Manager) Stats(_ context.Context) map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := map[string]int{StatusSent: 0, StatusFailed: 0}
	for _, n := range m.notifications {
		stats[n.Status]++
	}
	return stats
}
