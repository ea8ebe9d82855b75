package email

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBuildMessage(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	msg := string(BuildMessage("Campus Pass <noreply@college.edu>", "asha@college.edu", "Reminder:\r\nBcc: x@evil", "line one\nline two", at))

	head, body, ok := strings.Cut(msg, "\r\n\r\n")
	require.True(t, ok)
	assert.Equal(t, []string{
		"From: Campus Pass <noreply@college.edu>",
		"To: asha@college.edu",
		"Subject: Reminder:  Bcc: x@evil",
		"Date: Sun, 01 Mar 2026 09:30:00 +0000",
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
	}, strings.Split(head, "\r\n"))
	assert.Equal(t, "line one\r\nline two", body)
}

func TestMailer_DisabledWithoutHost(t *testing.T) {
	m := NewMailer(SMTPConfig{FromEmail: "noreply@college.edu"}, zaptest.NewLogger(t))
	assert.False(t, m.Enabled())
	assert.NoError(t, m.Send(context.Background(), "asha@college.edu", "hi", "body"))
}

func TestMailer_RespectsContext(t *testing.T) {
	// 192.0.2.0/24 is reserved for documentation and never answers.
	m := NewMailer(SMTPConfig{Host: "192.0.2.1", Port: 2525, FromEmail: "noreply@college.edu"}, zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := m.Send(ctx, "asha@college.edu", "hi", "body")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestMailer_RejectsEmptyRecipient(t *testing.T) {
	m := NewMailer(SMTPConfig{Host: "localhost", Port: 25}, zaptest.NewLogger(t))
	assert.Error(t, m.Send(context.Background(), "", "hi", "body"))
}
