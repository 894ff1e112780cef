package mail

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configureSMTP(t *testing.T, addr string) {
	t.Helper()
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	t.Setenv("SMTP_HOST", host)
	t.Setenv("SMTP_PORT", port)
	t.Setenv("SMTP_USERNAME", "")
	t.Setenv("SMTP_PASSWORD", "")
	t.Setenv("SMTP_SENDER", "no-reply@example.com")
}

// A server that accepts the connection and never says anything must not be
// able to hold a send past the configured timeout.
func TestSendMailTimesOutAgainstSilentServer(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
			// Keep the connection open without speaking SMTP.
		}
	}()

	configureSMTP(t, listener.Addr().String())
	t.Setenv("SMTP_TIMEOUT_SECONDS", "1")

	done := make(chan error, 1)
	go func() {
		done <- SendMail("maestra@example.com", "Tu código de acceso", "<p>hola</p>")
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("SendMail did not give up on a silent SMTP peer")
	}
}

func TestSendMailDeliversOverPlainSMTP(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		reader := bufio.NewReader(conn)
		reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }

		reply("220 localhost ESMTP")
		var data strings.Builder
		inData := false
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			if inData {
				if line == "." {
					inData = false
					reply("250 OK")
					received <- data.String()
					continue
				}
				data.WriteString(line + "\n")
				continue
			}
			switch {
			case strings.HasPrefix(line, "EHLO"), strings.HasPrefix(line, "HELO"):
				reply("250 localhost")
			case strings.HasPrefix(line, "MAIL FROM"), strings.HasPrefix(line, "RCPT TO"):
				reply("250 OK")
			case line == "DATA":
				inData = true
				reply("354 go ahead")
			case line == "QUIT":
				reply("221 bye")
				return
			default:
				reply("250 OK")
			}
		}
	}()

	configureSMTP(t, listener.Addr().String())
	t.Setenv("SMTP_TIMEOUT_SECONDS", "5")

	err = SendMail("maestra@example.com", "Tu código de acceso", "<p>ABCD2345</p>")
	require.NoError(t, err)

	select {
	case message := <-received:
		assert.Contains(t, message, "To: maestra@example.com")
		assert.Contains(t, message, "Subject: Tu código de acceso")
		assert.Contains(t, message, "ABCD2345")
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the message body")
	}
}

func TestSendMailRequiresHost(t *testing.T) {
	t.Setenv("SMTP_HOST", "")
	err := SendMail("maestra@example.com", "subject", "body")
	assert.Error(t, err)
}
