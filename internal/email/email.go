// Package email sends transactional mail.
package email

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"lexintake.org/internal/obs"
)

// Message is one outbound email.
type Message struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// MailgunConfig configures MailgunSender.
type MailgunConfig struct {
	APIKey  string
	Domain  string
	BaseURL string
	From    string
	Timeout time.Duration
	Client  *http.Client
}

// MailgunSender posts messages to the Mailgun HTTP API.
type MailgunSender struct {
	endpoint string
	apiKey   string
	from     string
	timeout  time.Duration
	client   *http.Client
}

func NewMailgunSender(cfg MailgunConfig) (*MailgunSender, error) {
	if cfg.APIKey == "" || cfg.Domain == "" {
		return nil, errors.New("email: mailgun api key and domain required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.mailgun.net"
	}
	s := &MailgunSender{
		endpoint: base + "/v3/" + url.PathEscape(cfg.Domain) + "/messages",
		apiKey:   cfg.APIKey,
		from:     cfg.From,
		timeout:  cfg.Timeout,
		client:   cfg.Client,
	}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Second
	}
	if s.client == nil {
		s.client = obs.InstrumentClient(&http.Client{})
	}
	return s, nil
}

func (s *MailgunSender) Send(ctx context.Context, msg Message) error {
	if msg.From == "" {
		msg.From = s.from
	}
	form := url.Values{}
	form.Set("from", msg.From)
	form.Set("to", msg.To)
	form.Set("subject", msg.Subject)
	form.Set("text", msg.Text)
	if msg.HTML != "" {
		form.Set("html", msg.HTML)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mailgun send: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// LogSender writes messages to the log instead of sending them.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg Message) error {
	obs.Logger().Info("email (log provider)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("text_bytes", len(msg.Text)),
	)
	return nil
}

// Welcome builds the message sent to a new firm-integration lead.
func Welcome(from, to, firmName, appURL string) Message {
	name := strings.TrimSpace(firmName)
	if name == "" {
		name = "there"
	}
	link := strings.TrimRight(appURL, "/") + "/signup?email=" + url.QueryEscape(to)
	text := fmt.Sprintf(`Hi %s,

Thanks for your interest in LexIntake. You can finish setting up your firm here:

%s

If you did not request this, you can ignore this email.
`, name, link)
	body := fmt.Sprintf(`<p>Hi %s,</p>
<p>Thanks for your interest in LexIntake. You can finish setting up your firm here:</p>
<p><a href="%s">Create your account</a></p>
<p>If you did not request this, you can ignore this email.</p>`,
		html.EscapeString(name), html.EscapeString(link))
	return Message{
		From:    from,
		To:      to,
		Subject: "Welcome to LexIntake",
		Text:    text,
		HTML:    body,
	}
}
