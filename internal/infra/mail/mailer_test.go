package mail

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRenderLoginCode(t *testing.T) {
	body, err := RenderLoginCode("Agent", "481516", 10*time.Minute)
	if err != nil {
		t.Fatalf("RenderLoginCode returned error: %v", err)
	}

	if !strings.Contains(body, "481516") {
		t.Fatal("rendered body must contain the code")
	}
	if !strings.Contains(body, "Hi Agent,") {
		t.Fatal("rendered body must greet the recipient")
	}
	if !strings.Contains(body, "10 minutes") {
		t.Fatal("rendered body must state the expiry")
	}
}

func TestRenderLoginCodeEscapesName(t *testing.T) {
	body, err := RenderLoginCode("<script>alert(1)</script>", "123456", time.Minute)
	if err != nil {
		t.Fatalf("RenderLoginCode returned error: %v", err)
	}
	if strings.Contains(body, "<script>") {
		t.Fatal("recipient name must be HTML-escaped")
	}
}

func TestLoggingMailerSendLoginCode(t *testing.T) {
	mailer := NewLoggingMailer(zap.NewNop())

	if err := mailer.SendLoginCode(context.Background(), "agent@example.com", "Agent", "123456", 10*time.Minute); err != nil {
		t.Fatalf("SendLoginCode returned error: %v", err)
	}
}
