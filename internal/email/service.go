// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/smtp"
	"strings"
	"time"
)

const appName = "EcoPlate"

var ErrNotConfigured = errors.New("email not configured")

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service provides email sending
type Service struct {
	config   Config
	server   string
	auth     smtp.Auth
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config:   config,
		server:   config.Host + ":" + config.Port,
		auth:     auth,
		sendMail: smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) fromHeader() string {
	if s.config.FromName == "" {
		return s.config.From
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.config.FromName), s.config.From)
}

// SendHTMLEmail sends a multipart/alternative message with a plain text part.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	boundary := fmt.Sprintf("ecoplate-%d", time.Now().UnixNano())

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", s.fromHeader())
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", textBody)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.sendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type VerificationData struct {
	AppName         string
	UserName        string
	VerificationURL string
}

type PasswordResetData struct {
	AppName  string
	UserName string
	ResetURL string
}

// ExpiringItem is one product line in an expiry reminder.
type ExpiringItem struct {
	Name      string
	Quantity  string
	ExpiresOn time.Time
}

type ExpiryReminderData struct {
	AppName   string
	UserName  string
	Items     []ExpiringItem
	PantryURL string
}

func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	data := VerificationData{AppName: appName, UserName: userName, VerificationURL: verificationURL}
	html, err := render("verification", data)
	if err != nil {
		return fmt.Errorf("render verification template: %w", err)
	}
	text := fmt.Sprintf("Hi %s,\n\nVerify your %s account: %s\n\nThe link expires in 24 hours.", userName, appName, verificationURL)
	return s.SendHTMLEmail([]string{to}, "Verify your "+appName+" account", text, html)
}

func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	data := PasswordResetData{AppName: appName, UserName: userName, ResetURL: resetURL}
	html, err := render("reset", data)
	if err != nil {
		return fmt.Errorf("render password reset template: %w", err)
	}
	text := fmt.Sprintf("Hi %s,\n\nReset your password: %s\n\nThe link expires in 1 hour.", userName, resetURL)
	return s.SendHTMLEmail([]string{to}, "Reset your "+appName+" password", text, html)
}

// SendExpiryReminder lists pantry items that expire soon.
func (s *Service) SendExpiryReminder(to, userName, pantryURL string, items []ExpiringItem) error {
	if len(items) == 0 {
		return nil
	}
	data := ExpiryReminderData{AppName: appName, UserName: userName, Items: items, PantryURL: pantryURL}
	html, err := render("expiry", data)
	if err != nil {
		return fmt.Errorf("render expiry template: %w", err)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Hi %s,\n\nThese items in your pantry expire soon:\n", userName)
	for _, item := range items {
		fmt.Fprintf(&text, "- %s (%s), expires %s\n", item.Name, item.Quantity, item.ExpiresOn.Format("2 Jan"))
	}
	fmt.Fprintf(&text, "\nUse them, share them or list them on the marketplace: %s", pantryURL)

	subject := fmt.Sprintf("%d item(s) in your pantry expire soon", len(items))
	return s.SendHTMLEmail([]string{to}, subject, text.String(), html)
}

var templates = template.Must(template.New("email").Funcs(template.FuncMap{
	"day": func(t time.Time) string { return t.Format("Mon 2 Jan") },
}).Parse(layoutTemplate))

func init() {
	template.Must(templates.New("verification").Parse(verificationTemplate))
	template.Must(templates.New("reset").Parse(passwordResetTemplate))
	template.Must(templates.New("expiry").Parse(expiryReminderTemplate))
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const layoutTemplate = `{{define "head"}}<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #2e7d32; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #2e7d32; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #2e7d32; }
    </style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
{{end}}
{{define "foot"}}
</body>
</html>{{end}}`

const verificationTemplate = `{{template "head" .}}
    <h2>Welcome, {{.UserName}}!</h2>
    <p>Thanks for joining. Please verify your email address to activate your account.</p>
    <p><a href="{{.VerificationURL}}" class="button">Verify Email Address</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.VerificationURL}}</p>
    <p>This verification link will expire in 24 hours.</p>
    <div class="footer"><p>If you didn't create an account with {{.AppName}}, you can ignore this email.</p></div>
{{template "foot" .}}`

const passwordResetTemplate = `{{template "head" .}}
    <h2>Password Reset Request</h2>
    <p>Hi {{.UserName}},</p>
    <p>We received a request to reset your password.</p>
    <p><a href="{{.ResetURL}}" class="button">Reset Password</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.ResetURL}}</p>
    <p><strong>Important:</strong> This reset link will expire in 1 hour.</p>
    <div class="footer"><p>If you didn't request a password reset, your password will remain unchanged.</p></div>
{{template "foot" .}}`

const expiryReminderTemplate = `{{template "head" .}}
    <h2>Use it before you lose it</h2>
    <p>Hi {{.UserName}}, these items in your pantry expire soon:</p>
    <ul>
    {{range .Items}}    <li><strong>{{.Name}}</strong> ({{.Quantity}}), expires {{day .ExpiresOn}}</li>
    {{end}}</ul>
    <p><a href="{{.PantryURL}}" class="button">Open my pantry</a></p>
    <div class="footer"><p>Cook it, share it with a neighbour, or list it on the marketplace.</p></div>
{{template "foot" .}}`
