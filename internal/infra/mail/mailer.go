package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"go.uber.org/zap"

	"github.com/techsupport4/crm-auth/internal/core/port"
	"github.com/techsupport4/crm-auth/internal/infra/logger"
)

var loginCodeTemplate = template.Must(template.New("login_code").Parse(`<!DOCTYPE html>
<html>
  <body style="font-family: Arial, sans-serif; color: #333;">
    <div style="max-width: 480px; margin: 0 auto; padding: 24px;">
      <h2>Your verification code</h2>
      <p>Hi {{.Name}},</p>
      <p>Use the code below to finish signing in. It expires in {{.TTLMinutes}} minutes.</p>
      <p style="font-size: 32px; letter-spacing: 8px; font-weight: bold;">{{.Code}}</p>
      <p>If you did not try to sign in, you can ignore this email.</p>
    </div>
  </body>
</html>`))

var loginAlertTemplate = template.Must(template.New("login_alert").Parse(`<!DOCTYPE html>
<html>
  <body style="font-family: Arial, sans-serif; color: #333;">
    <div style="max-width: 480px; margin: 0 auto; padding: 24px;">
      <h2>New sign-in to your account</h2>
      <p>Hi {{.Name}},</p>
      <p>Your account was just signed in to:</p>
      <ul>
        <li>Time: {{.Time}}</li>
        <li>IP address: {{.IP}}</li>
        <li>Location: {{.Location}}</li>
        <li>Device: {{.Device}}</li>
      </ul>
      <p>If this was you, no action is needed. If not, change your password immediately.</p>
    </div>
  </body>
</html>`))

var welcomeTemplate = template.Must(template.New("welcome").Parse(`<!DOCTYPE html>
<html>
  <body style="font-family: Arial, sans-serif; color: #333;">
    <div style="max-width: 480px; margin: 0 auto; padding: 24px;">
      <h2>Welcome aboard</h2>
      <p>Hi {{.Name}},</p>
      <p>Your support desk account has been created. Sign in with your email address and the password you were given.</p>
    </div>
  </body>
</html>`))

type loginCodeData struct {
	Name       string
	Code       string
	TTLMinutes int
}

type loginAlertData struct {
	Name     string
	Time     string
	IP       string
	Location string
	Device   string
}

// RenderLoginCode produces the HTML body for a verification email.
func RenderLoginCode(name string, code string, ttl time.Duration) (string, error) {
	var buf bytes.Buffer
	err := loginCodeTemplate.Execute(&buf, loginCodeData{
		Name:       name,
		Code:       code,
		TTLMinutes: int(ttl.Minutes()),
	})
	if err != nil {
		return "", fmt.Errorf("render login code template: %w", err)
	}
	return buf.String(), nil
}

// RenderLoginAlert produces the HTML body for a sign-in notification.
func RenderLoginAlert(name string, alert port.LoginAlert) (string, error) {
	var buf bytes.Buffer
	err := loginAlertTemplate.Execute(&buf, loginAlertData{
		Name:     name,
		Time:     alert.At.UTC().Format(time.RFC1123),
		IP:       alert.IP,
		Location: alert.Location,
		Device:   alert.Device,
	})
	if err != nil {
		return "", fmt.Errorf("render login alert template: %w", err)
	}
	return buf.String(), nil
}

// RenderWelcome produces the HTML body for the account creation email.
func RenderWelcome(name string) (string, error) {
	var buf bytes.Buffer
	if err := welcomeTemplate.Execute(&buf, loginCodeData{Name: name}); err != nil {
		return "", fmt.Errorf("render welcome template: %w", err)
	}
	return buf.String(), nil
}

// LoggingMailer renders messages and records the delivery in the log instead
// of talking to an SMTP relay. Deployments hand the rendered body to the
// platform mail gateway; the code itself is never logged.
type LoggingMailer struct {
	logger *zap.Logger
}

// NewLoggingMailer constructs the mailer.
func NewLoggingMailer(log *zap.Logger) *LoggingMailer {
	return &LoggingMailer{logger: log}
}

// SendLoginCode renders and "delivers" a verification code email.
func (m *LoggingMailer) SendLoginCode(_ context.Context, to string, name string, code string, ttl time.Duration) error {
	body, err := RenderLoginCode(name, code, ttl)
	if err != nil {
		return err
	}

	m.logger.Info("login code email dispatched",
		zap.String("to", logger.MaskEmail(to)),
		zap.Int("body_bytes", len(body)),
		zap.Duration("ttl", ttl),
	)
	return nil
}

// SendLoginAlert renders and "delivers" a sign-in notification.
func (m *LoggingMailer) SendLoginAlert(_ context.Context, to string, name string, alert port.LoginAlert) error {
	body, err := RenderLoginAlert(name, alert)
	if err != nil {
		return err
	}

	m.logger.Info("login alert email dispatched",
		zap.String("to", logger.MaskEmail(to)),
		zap.String("ip", logger.MaskIP(alert.IP)),
		zap.Int("body_bytes", len(body)),
	)
	return nil
}

// SendWelcome renders and "delivers" the account creation email.
func (m *LoggingMailer) SendWelcome(_ context.Context, to string, name string) error {
	body, err := RenderWelcome(name)
	if err != nil {
		return err
	}

	m.logger.Info("welcome email dispatched",
		zap.String("to", logger.MaskEmail(to)),
		zap.Int("body_bytes", len(body)),
	)
	return nil
}

var _ port.Mailer = (*LoggingMailer)(nil)
