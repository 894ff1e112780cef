package events

import (
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/globalskillscert/skillscert-api/internal/pkg/env"
)

// Subjects published by the API. Downstream consumers (CRM sync, analytics)
// subscribe to these; the API never blocks on them.
const (
	SubjectAccessIssued      = "access.issued"
	SubjectAccessDelivered   = "access.delivered"
	SubjectLoginSucceeded    = "access.login_succeeded"
	SubjectCredentialRevoked = "access.credential_revoked"
)

var nc *nats.Conn

// Setup connects to the NATS server. The event stream is optional plumbing:
// when NATS_URL is unset or the server is down, publishing degrades to a
// no-op with a warning instead of failing requests.
func Setup() {
	url := env.GetEnv("NATS_URL", "")
	if url == "" {
		log.Println("NATS_URL not set, event publishing disabled")
		return
	}

	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		log.Printf("Warning: could not connect to NATS: %v", err)
		return
	}
	nc = conn
	log.Println("Connected to NATS")
}

// Connected reports whether the event stream is usable.
func Connected() bool {
	return nc != nil && nc.IsConnected()
}

// Close drains the connection on shutdown.
func Close() {
	if nc != nil {
		nc.Close()
		nc = nil
	}
}

// Publish emits an event, best-effort. Marshal or publish failures are
// logged and swallowed.
func Publish(subject string, event interface{}) {
	if nc == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("WARN: marshal event %s: %v", subject, err)
		return
	}
	if err := nc.Publish(subject, data); err != nil {
		log.Printf("WARN: publish event %s: %v", subject, err)
	}
}
