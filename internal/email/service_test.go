package email

import (
	"net/smtp"
	"strings"
	"testing"
	"time"
)

type captured struct {
	addr string
	from string
	to   []string
	msg  string
}

func newCapturingService(t *testing.T) (*Service, *captured) {
	t.Helper()
	c := &captured{}
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "noreply@ecoplate.test", FromName: "EcoPlate"})
	svc.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		c.addr, c.from, c.to, c.msg = addr, from, to, string(msg)
		return nil
	}
	return svc, c
}

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: "587", From: "test@example.com"}, expected: false},
		{name: "missing port", config: Config{Host: "smtp.example.com", From: "test@example.com"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: "587"}, expected: false},
		{name: "fully configured", config: Config{Host: "smtp.example.com", Port: "587", From: "test@example.com"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestUnconfiguredServiceRefusesToSend(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendVerificationEmail("a@example.com", "A", "https://x"); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendVerificationEmail(t *testing.T) {
	svc, c := newCapturingService(t)
	if err := svc.SendVerificationEmail("ana@example.com", "Ana", "https://app.test/verify?token=abc123"); err != nil {
		t.Fatalf("SendVerificationEmail() error = %v", err)
	}
	if c.addr != "smtp.example.com:587" || c.from != "noreply@ecoplate.test" {
		t.Fatalf("unexpected envelope: %s %s", c.addr, c.from)
	}
	for _, want := range []string{"To: ana@example.com", "Welcome, Ana!", "https://app.test/verify?token=abc123", "24 hours", "multipart/alternative"} {
		if !strings.Contains(c.msg, want) {
			t.Errorf("message should contain %q", want)
		}
	}
}

func TestSendPasswordResetEmail(t *testing.T) {
	svc, c := newCapturingService(t)
	if err := svc.SendPasswordResetEmail("ana@example.com", "Ana", "https://app.test/reset?token=xyz789"); err != nil {
		t.Fatalf("SendPasswordResetEmail() error = %v", err)
	}
	if !strings.Contains(c.msg, "https://app.test/reset?token=xyz789") || !strings.Contains(c.msg, "1 hour") {
		t.Fatalf("unexpected message: %s", c.msg)
	}
}

func TestSendExpiryReminder(t *testing.T) {
	svc, c := newCapturingService(t)
	items := []ExpiringItem{
		{Name: "Greek yoghurt", Quantity: "500 g", ExpiresOn: time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)},
		{Name: "Spinach", Quantity: "1 pcs", ExpiresOn: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)},
	}
	if err := svc.SendExpiryReminder("ana@example.com", "Ana", "https://app.test/pantry", items); err != nil {
		t.Fatalf("SendExpiryReminder() error = %v", err)
	}
	for _, want := range []string{"2 item(s)", "Greek yoghurt", "Spinach", "Wed 4 Mar", "https://app.test/pantry"} {
		if !strings.Contains(c.msg, want) {
			t.Errorf("message should contain %q", want)
		}
	}
}

func TestSendExpiryReminderSkipsEmptyList(t *testing.T) {
	svc, c := newCapturingService(t)
	if err := svc.SendExpiryReminder("ana@example.com", "Ana", "https://app.test/pantry", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.msg != "" {
		t.Fatal("expected no message to be sent")
	}
}

func TestTemplatesEscapeUserInput(t *testing.T) {
	html, err := render("verification", VerificationData{AppName: appName, UserName: "<script>x</script>", VerificationURL: "https://x"})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Error("user name must be escaped")
	}
}
