package entree

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/flosch/pongo2/v6"
	goerrors "github.com/goliatone/go-errors"
)

// Message is an outgoing email
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers messages
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPMailer sends plain text mail through an SMTP relay
type SMTPMailer struct {
	Addr     string
	From     string
	Username string
	Password string
}

func (m SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if m.Username != "" {
		host := m.Addr
		if i := strings.LastIndex(host, ":"); i > 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", m.Username, m.Password, host)
	}

	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		m.From, msg.To, msg.Subject, msg.Body)

	return smtp.SendMail(m.Addr, auth, m.From, []string{msg.To}, []byte(body))
}

// LogMailer writes messages to a logger instead of sending them
type LogMailer struct {
	Logger Logger
}

func (m LogMailer) Send(_ context.Context, msg Message) error {
	logger := m.Logger
	if logger == nil {
		logger = defLogger{}
	}
	logger.Info("mail to=%s subject=%q\n%s", msg.To, msg.Subject, msg.Body)
	return nil
}

const (
	MailActivation    = "activation"
	MailPasswordReset = "password_reset"
)

const defaultActivationTemplate = `Hello {{ email }},

please confirm your email address by following the link below:

{{ link }}

The link is valid for {{ valid_hours }} hours.
`

const defaultResetTemplate = `Hello {{ email }},

somebody asked to reset the password of your account. If it was you,
follow the link below to choose a new one:

{{ link }}

If you did not ask for it you can ignore this message.
`

type mailTemplate struct {
	subject string
	body    *pongo2.Template
}

// IdentityMailer sends the activation and password reset emails
type IdentityMailer struct {
	tokens    *TokenIssuer
	mailer    Mailer
	publicURL string
	cooldown  time.Duration
	debug     bool
	templates map[string]mailTemplate
	now       Clock
	logger    Logger
	metrics   Metrics
}

// NewIdentityMailer creates a mailer using the default templates
func NewIdentityMailer(tokens *TokenIssuer, mailer Mailer, cfg Config) *IdentityMailer {
	cooldown := cfg.GetMailCooldown()
	if cooldown <= 0 {
		cooldown = 10 * time.Minute
	}

	m := &IdentityMailer{
		tokens:    tokens,
		mailer:    mailer,
		publicURL: strings.TrimRight(cfg.GetPublicURL(), "/"),
		cooldown:  cooldown,
		debug:     cfg.GetDebug(),
		templates: map[string]mailTemplate{},
		now:       time.Now,
		logger:    defLogger{},
		metrics:   nopMetrics{},
	}

	m.templates[MailActivation] = mailTemplate{
		subject: "Confirm your email",
		body:    pongo2.Must(pongo2.FromString(defaultActivationTemplate)),
	}
	m.templates[MailPasswordReset] = mailTemplate{
		subject: "Password recovery",
		body:    pongo2.Must(pongo2.FromString(defaultResetTemplate)),
	}

	return m
}

func (m *IdentityMailer) WithLogger(l Logger) *IdentityMailer {
	if l != nil {
		m.logger = l
	}
	return m
}

func (m *IdentityMailer) WithMetrics(mt Metrics) *IdentityMailer {
	m.metrics = normalizeMetrics(mt)
	return m
}

func (m *IdentityMailer) WithClock(c Clock) *IdentityMailer {
	if c != nil {
		m.now = c
	}
	return m
}

// WithTemplate replaces the subject and pongo2 body of kind
func (m *IdentityMailer) WithTemplate(kind, subject, body string) (*IdentityMailer, error) {
	tpl, err := pongo2.FromString(body)
	if err != nil {
		return m, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid mail template").
			WithMetadata(map[string]any{"kind": kind})
	}
	m.templates[kind] = mailTemplate{subject: subject, body: tpl}
	return m, nil
}

// ActivationLink is the verification url for token
func (m *IdentityMailer) ActivationLink(identity *Identity, token *LoginToken) string {
	return fmt.Sprintf("%s%s%s/%s/", m.publicURL, RouteVerify, EncodeEmail(identity.Email), token.Value)
}

// ResetLink is the password reset url for token
func (m *IdentityMailer) ResetLink(identity *Identity, token *LoginToken) string {
	return fmt.Sprintf("%s%s%s/%s/", m.publicURL, RoutePasswordRecoveryFinish, EncodeEmail(identity.Email), token.Value)
}

// SendActivation mails the verification link to identity. data, when
// given, is stored in the MAIL token so verification can resume the flow.
// A false result with a nil error means delivery failed and was logged.
func (m *IdentityMailer) SendActivation(ctx context.Context, identity *Identity, data *TokenData) (bool, error) {
	if identity.MailVerified {
		return false, ErrAlreadyVerified
	}

	token, err := m.obtain(ctx, identity, TokenMail)
	if err != nil {
		return false, err
	}

	if data != nil {
		token.Data = *data
		if err := m.tokens.SaveData(ctx, token); err != nil {
			return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store token data")
		}
	}

	return m.send(ctx, MailActivation, identity, token, m.ActivationLink(identity, token))
}

// SendPasswordReset mails the password reset link to identity
func (m *IdentityMailer) SendPasswordReset(ctx context.Context, identity *Identity) (bool, error) {
	token, err := m.obtain(ctx, identity, TokenReset)
	if err != nil {
		return false, err
	}

	return m.send(ctx, MailPasswordReset, identity, token, m.ResetLink(identity, token))
}

func (m *IdentityMailer) obtain(ctx context.Context, identity *Identity, tokenType TokenType) (*LoginToken, error) {
	token, created, err := m.tokens.Obtain(ctx, identity, tokenType)
	if err != nil {
		return nil, err
	}

	if !created && !m.debug && m.now().Sub(token.Touched) < m.cooldown {
		return nil, ErrMailCooldown
	}

	return token, nil
}

func (m *IdentityMailer) send(ctx context.Context, kind string, identity *Identity, token *LoginToken, link string) (bool, error) {
	tpl, ok := m.templates[kind]
	if !ok {
		return false, goerrors.New("unknown mail template", goerrors.CategoryInternal).
			WithMetadata(map[string]any{"kind": kind})
	}

	body, err := tpl.body.Execute(pongo2.Context{
		"email":       identity.Email,
		"link":        link,
		"valid_hours": int(m.tokens.TTL(token.Type).Hours()),
	})
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render mail")
	}

	if err := m.mailer.Send(ctx, Message{To: identity.Email, Subject: tpl.subject, Body: body}); err != nil {
		m.logger.Error("failed to send %s mail to %s: %v", kind, identity.Email, err)
		m.metrics.MailSent(kind, false)
		return false, nil
	}

	m.metrics.MailSent(kind, true)

	if err := m.tokens.Touch(ctx, token); err != nil {
		m.logger.Warn("failed to touch %s token: %v", token.Type, err)
	}

	return true, nil
}
