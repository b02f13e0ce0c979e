package notifier

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	config "github.com/NordCoder/Questline/internal/config/email-notifier"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// startSMTP runs a minimal relay that accepts everything and hands each
// message body to the returned channel.
func startSMTP(t *testing.T) (string, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	got := make(chan string, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSMTP(conn, got)
		}
	}()
	return ln.Addr().String(), got
}

func serveSMTP(conn net.Conn, got chan<- string) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }

	reply("220 localhost ESMTP test")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"):
			reply("250-localhost")
			reply("250 8BITMIME")
		case strings.HasPrefix(cmd, "HELO"):
			reply("250 localhost")
		case strings.HasPrefix(cmd, "MAIL FROM"), strings.HasPrefix(cmd, "RCPT TO"), cmd == "RSET", cmd == "NOOP":
			reply("250 OK")
		case cmd == "DATA":
			reply("354 go ahead")
			var body strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				body.WriteString(l)
			}
			got <- body.String()
			reply("250 OK queued")
		case cmd == "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 not implemented")
		}
	}
}

func TestMailer_SendsHTML(t *testing.T) {
	addr, got := startSMTP(t)
	m := New(config.SMTP{
		Addr:       addr,
		From:       "Questline <noreply@questline.dev>",
		Timeout:    2 * time.Second,
		SubjPrefix: "[Questline]",
	}, zap.NewNop())

	require.NoError(t, m.Send(context.Background(), "alex@example.com", "Alex", "Level Up!", "<p>Level 5</p>"))

	select {
	case body := <-got:
		assert.Contains(t, body, `To: "Alex" <alex@example.com>`)
		assert.Contains(t, body, "Subject: [Questline] Level Up!")
		assert.Contains(t, body, "Content-Type: text/html; charset=utf-8")
		assert.Contains(t, body, "<p>Level 5</p>")
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
	assert.Equal(t, "closed", m.breakerState())
}

func TestMailer_EncodesNonASCIISubject(t *testing.T) {
	addr, got := startSMTP(t)
	m := New(config.SMTP{Addr: addr, From: "noreply@questline.dev"}, zap.NewNop())

	require.NoError(t, m.Send(context.Background(), "a@example.com", "", "Süper", "<p>x</p>"))
	body := <-got
	assert.Contains(t, body, "Subject: =?utf-8?q?S=C3=BCper?=")
}

func TestMailer_BreakerOpensAfterFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	log := zap.New(core)
	m := New(config.SMTP{
		Addr:            "127.0.0.1:1",
		From:            "noreply@questline.dev",
		Timeout:         time.Second,
		BreakerFailures: 2,
		BreakerCooldown: time.Minute,
	}, log)

	for i := 0; i < 2; i++ {
		err := m.Send(context.Background(), "a@example.com", "A", "s", "b")
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}
	assert.Equal(t, "open", m.breakerState())

	err := m.Send(context.Background(), "a@example.com", "A", "s", "b")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)

	changed := logs.FilterMessage("smtp breaker state changed").All()
	require.Len(t, changed, 1)
	assert.Equal(t, "open", changed[0].ContextMap()["to"])
	rejected := logs.FilterMessage("smtp breaker rejected send").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, "open", rejected[0].ContextMap()["breaker"])
}

func TestMailer_SubjectCannotInjectHeaders(t *testing.T) {
	addr, got := startSMTP(t)
	m := New(config.SMTP{Addr: addr, From: "noreply@questline.dev", SubjPrefix: "[Questline]"}, zap.NewNop())

	require.NoError(t, m.Send(context.Background(), "a@example.com", "A",
		"Hi\r\nBcc: attacker@evil.test\nX-Extra:\tyes", "<p>x</p>"))
	body := <-got

	headers, _, found := strings.Cut(body, "\r\n\r\n")
	require.True(t, found)
	lines := strings.Split(headers, "\r\n")
	for _, l := range lines {
		assert.False(t, strings.HasPrefix(strings.ToLower(l), "bcc:"), "unexpected header line %q", l)
		assert.False(t, strings.HasPrefix(strings.ToLower(l), "x-extra:"), "unexpected header line %q", l)
	}
	assert.Contains(t, lines, "Subject: [Questline] Hi Bcc: attacker@evil.test X-Extra: yes")
}

func TestHeaderText(t *testing.T) {
	assert.Equal(t, "a b c", headerText(" a\r\nb\x00 c\x7f"))
	assert.Equal(t, "Level Up!", headerText("Level Up!"))
	assert.Equal(t, "", headerText("\r\n"))
}
