// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"net/url"
	"strings"

	"notegate/api/internal/grants"
	"notegate/api/internal/store"
)

const appName = "Notegate"

// ErrNotConfigured is returned by every send when SMTP settings are missing.
var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// PublicURL is the base for links placed in emails.
	PublicURL string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) fromHeader() string {
	if s.config.FromName != "" {
		return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	return s.config.From
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", s.fromHeader())
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n%s", body)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// SendHTMLEmail sends an HTML email with a plain text fallback part.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}

	boundary := "boundary-notegate"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", s.fromHeader())
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n%s\r\n\r\n", textBody)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type InvitationData struct {
	AppName     string
	InviterName string
	NoteTitle   string
	RoleName    string
	AcceptURL   string
	ExpiresAt   string
}

type WelcomeData struct {
	AppName  string
	UserName string
	AppURL   string
}

// NotifyInvitation implements grants.Notifier.
func (s *Service) NotifyInvitation(_ context.Context, n grants.InvitationNotice) error {
	data := InvitationData{
		AppName:     appName,
		InviterName: n.InviterName,
		NoteTitle:   n.NoteTitle,
		RoleName:    n.RoleName,
		AcceptURL:   s.link("/invitations/accept", url.Values{"token": {n.Token}}),
		ExpiresAt:   n.ExpiresAt.UTC().Format("2 Jan 2006 15:04 MST"),
	}
	html, err := renderTemplate(invitationEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render invitation template: %w", err)
	}
	text := fmt.Sprintf("%s invited you to %q as %s.\r\nAccept: %s\r\nThis invitation expires %s.",
		data.InviterName, data.NoteTitle, data.RoleName, data.AcceptURL, data.ExpiresAt)

	subject := fmt.Sprintf("%s invited you to \"%s\"", data.InviterName, data.NoteTitle)
	return s.SendHTMLEmail([]string{n.Email}, subject, text, html)
}

// Welcome implements authpw.Welcomer.
func (s *Service) Welcome(_ context.Context, user store.User) error {
	data := WelcomeData{AppName: appName, UserName: user.DisplayName, AppURL: s.link("/", nil)}
	html, err := renderTemplate(welcomeEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render welcome template: %w", err)
	}
	text := fmt.Sprintf("Welcome to %s, %s!\r\nOpen %s to create your first note.", appName, data.UserName, data.AppURL)
	return s.SendHTMLEmail([]string{user.Email}, "Welcome to "+appName, text, html)
}

func (s *Service) link(path string, query url.Values) string {
	base := strings.TrimRight(s.config.PublicURL, "/")
	if len(query) == 0 {
		return base + path
	}
	return base + path + "?" + query.Encode()
}

func renderTemplate(tmpl string, data any) (string, error) {
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
