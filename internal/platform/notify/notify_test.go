package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestRender(t *testing.T) {
	e := NewEngine()
	subject, body, err := e.Render(TemplateOptInConfirmation, map[string]string{"first_name": "Ann"})
	if err != nil {
		t.Fatal(err)
	}
	if subject == "" {
		t.Error("empty subject")
	}
	if !strings.Contains(body, "Ann") {
		t.Errorf("body = %q, placeholder not substituted", body)
	}
}

func TestRender_UnknownKeysLeftAsIs(t *testing.T) {
	e := NewEngine()
	e.Register(Template{ID: "t", Subject: "s", Body: "hello {{name}} {{other}}"})
	_, body, err := e.Render("t", map[string]string{"name": "Ann"})
	if err != nil {
		t.Fatal(err)
	}
	if body != "hello Ann {{other}}" {
		t.Errorf("body = %q", body)
	}
}

func TestRender_MissingTemplate(t *testing.T) {
	if _, _, err := NewEngine().Render("nope", nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestSendTemplate_Channels(t *testing.T) {
	email, sms := &MockEmailSender{}, &MockSMSSender{}
	svc := NewService(NewEngine(), email, sms, zerolog.Nop())

	if err := svc.SendTemplate(context.Background(), TypeEmail, "ann@example.com", TemplateAddressProblem, map[string]string{"first_name": "Ann"}); err != nil {
		t.Fatal(err)
	}
	if err := svc.SendTemplate(context.Background(), TypeSMS, "+15550001111", TemplateAddressProblem, map[string]string{"first_name": "Ann"}); err != nil {
		t.Fatal(err)
	}

	if n := len(email.Calls()); n != 1 {
		t.Errorf("email calls = %d", n)
	}
	if n := len(sms.Calls()); n != 1 {
		t.Errorf("sms calls = %d", n)
	}
}

func TestSendTemplate_UnknownType(t *testing.T) {
	svc := NewService(NewEngine(), &MockEmailSender{}, &MockSMSSender{}, zerolog.Nop())
	if err := svc.SendTemplate(context.Background(), Type("fax"), "x", TemplateAddressProblem, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestSendTemplate_SenderFailureWrapped(t *testing.T) {
	svc := NewService(NewEngine(), &MockEmailSender{ShouldFail: true}, &MockSMSSender{}, zerolog.Nop())
	err := svc.SendTemplate(context.Background(), TypeEmail, "ann@example.com", TemplateAddressProblem, nil)
	if err == nil {
		t.Fatal("expected error")
	}
}
