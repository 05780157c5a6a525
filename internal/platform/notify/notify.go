// Package notify provides the thin email/SMS senders the pipeline uses for
// opt-in confirmations and address-problem outreach, with simple template
// rendering.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Type is the delivery channel.
type Type string

const (
	TypeEmail Type = "email"
	TypeSMS   Type = "sms"
)

// Built-in template ids.
const (
	TemplateOptInConfirmation = "opt-in-confirmation"
	TemplateAddressProblem    = "address-problem"
)

// EmailSender sends email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender sends SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Template is a reusable message with {{key}} placeholders.
type Template struct {
	ID      string
	Subject string
	Body    string
}

// Engine stores templates and renders them with data. Keys present in a
// template but absent from data are left as-is.
type Engine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

func NewEngine() *Engine {
	e := &Engine{templates: make(map[string]*Template)}
	for _, t := range []Template{
		{
			ID:      TemplateOptInConfirmation,
			Subject: "You're signed up",
			Body:    "Hi {{first_name}}, thanks for signing up. We'll let you know when your kits ship.",
		},
		{
			ID:      TemplateAddressProblem,
			Subject: "We couldn't verify your shipping address",
			Body:    "Hi {{first_name}}, the address on your request doesn't appear deliverable. Please reply with a corrected shipping address so we can send your kits.",
		},
	} {
		t := t
		e.templates[t.ID] = &t
	}
	return e
}

// Register adds or replaces a template.
func (e *Engine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

func (e *Engine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}
	subject, body = t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// Service renders templates and dispatches them over the configured channel.
type Service struct {
	engine *Engine
	email  EmailSender
	sms    SMSSender
	logger zerolog.Logger
}

func NewService(engine *Engine, email EmailSender, sms SMSSender, logger zerolog.Logger) *Service {
	return &Service{engine: engine, email: email, sms: sms, logger: logger}
}

// SendTemplate renders templateID with data and sends it to recipient over
// the given channel.
func (s *Service) SendTemplate(ctx context.Context, typ Type, recipient, templateID string, data map[string]string) error {
	subject, body, err := s.engine.Render(templateID, data)
	if err != nil {
		return err
	}
	switch typ {
	case TypeEmail:
		if s.email == nil {
			return errors.New("no email sender configured")
		}
		err = s.email.SendEmail(ctx, recipient, subject, body)
	case TypeSMS:
		if s.sms == nil {
			return errors.New("no sms sender configured")
		}
		err = s.sms.SendSMS(ctx, recipient, body)
	default:
		return fmt.Errorf("unknown notification type %q", typ)
	}
	if err != nil {
		return fmt.Errorf("send %s to %s: %w", typ, recipient, err)
	}
	s.logger.Debug().Str("type", string(typ)).Str("template", templateID).Msg("notification sent")
	return nil
}

// LogSender writes messages to the log instead of delivering them; the
// development default for both channels.
type LogSender struct {
	Logger zerolog.Logger
}

func (l LogSender) SendEmail(_ context.Context, to, subject, _ string) error {
	l.Logger.Info().Str("to", to).Str("subject", subject).Msg("email (log only)")
	return nil
}

func (l LogSender) SendSMS(_ context.Context, to, _ string) error {
	l.Logger.Info().Str("to", to).Msg("sms (log only)")
	return nil
}

// MockEmailSender is a test double recording calls.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
}

// EmailCall records a single SendEmail invocation.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New("email send failed")
	}
	return nil
}

func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockSMSSender is a test double recording calls.
type MockSMSSender struct {
	mu         sync.Mutex
	calls      []SMSCall
	ShouldFail bool
}

// SMSCall records a single SendSMS invocation.
type SMSCall struct {
	To   string
	Body string
}

func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	if m.ShouldFail {
		return errors.New("sms send failed")
	}
	return nil
}

func (m *MockSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}
