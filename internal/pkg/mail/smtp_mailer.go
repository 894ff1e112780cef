package mail

import (
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/smtp"
	"time"

	"github.com/globalskillscert/skillscert-api/internal/pkg/env"
)

const defaultSendTimeoutSeconds = 10

// SendMail delivers an HTML email via SMTP
func SendMail(to string, subject string, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	port := env.GetEnv("SMTP_PORT", "")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")
	sender := env.GetEnv("SMTP_SENDER", "")

	if host == "" {
		return fmt.Errorf("SMTP_HOST is not configured")
	}
	if sender == "" {
		sender = fmt.Sprintf("no-reply@%s", "localhost")
		log.Printf("SMTP_SENDER not set, using default sender: %s", sender)
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	addr := fmt.Sprintf("%s:%s", host, port)

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	timeout := time.Duration(env.GetEnvInt("SMTP_TIMEOUT_SECONDS", defaultSendTimeoutSeconds)) * time.Second
	err := send(addr, host, auth, sender, to, msg, timeout)
	if err != nil {
		log.Printf("SMTP send error: %v", err)
	} else {
		log.Printf("Email sent to %s via %s", to, addr)
	}
	return err
}

// send speaks one SMTP session over a connection with an absolute deadline,
// so a stalled or silent server cannot hold the caller past the timeout.
// net/smtp's SendMail offers no deadline hook, hence the manual client.
func send(addr, host string, auth smtp.Auth, from, to string, msg []byte, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return err
			}
		}
	}

	if err := client.Mail(from); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	writer, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := writer.Write(msg); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// SendAccessCodeMail sends the purchase confirmation with the access code.
func SendAccessCodeMail(to, name, code string, expiresAt time.Time) error {
	greeting := "Hola"
	if name != "" {
		greeting = "Hola " + name
	}
	body := fmt.Sprintf(`
		<h2>¡Gracias por tu compra!</h2>
		<p>%s,</p>
		<p>Tu código de acceso a la plataforma es:</p>
		<p style="font-size:24px;font-weight:bold;letter-spacing:4px;">%s</p>
		<p>Ingresa con tu correo y este código. Tu acceso es válido hasta el %s.</p>
		<p>Guarda este correo; el código es personal y no debe compartirse.</p>
	`, greeting, code, expiresAt.Format("02/01/2006"))

	return SendMail(to, "Tu código de acceso", body)
}

// SendValidityExtendedMail confirms a renewal purchase that kept the
// existing access code.
func SendValidityExtendedMail(to, name string, expiresAt time.Time) error {
	greeting := "Hola"
	if name != "" {
		greeting = "Hola " + name
	}
	body := fmt.Sprintf(`
		<h2>¡Gracias por renovar!</h2>
		<p>%s,</p>
		<p>Tu acceso fue extendido. Sigue usando tu código actual.</p>
		<p>Tu acceso es válido hasta el %s.</p>
	`, greeting, expiresAt.Format("02/01/2006"))

	return SendMail(to, "Tu acceso fue renovado", body)
}
