package notify

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/globalskillscert/skillscert-api/internal/pkg/events"
	"github.com/globalskillscert/skillscert-api/internal/pkg/mail"
	"github.com/globalskillscert/skillscert-api/internal/pkg/whatsapp"
)

const (
	ChannelEmail    = "email"
	ChannelWhatsApp = "whatsapp"
)

// AccessNotification is everything the channels need to deliver a code.
// When ValidityExtended is set the purchase renewed an existing credential
// and there is no new code to send, only a confirmation.
type AccessNotification struct {
	Email            string
	Name             string
	Phone            string
	AccessCode       string
	ExpiresAt        time.Time
	ValidityExtended bool
}

// ChannelResult records one delivery attempt. Skipped channels (no phone on
// file, WhatsApp not configured) are reported with Attempted false.
type ChannelResult struct {
	Channel   string `json:"channel"`
	Attempted bool   `json:"attempted"`
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

// DeliveryReport summarizes a dispatch across all channels. Delivery is
// best-effort: the purchase pipeline records the report but never fails on
// it, since the payment already settled and the credential already exists.
type DeliveryReport struct {
	ID       string          `json:"id"`
	Email    string          `json:"email"`
	Channels []ChannelResult `json:"channels"`
	SentAt   time.Time       `json:"sent_at"`
}

// Delivered reports whether at least one channel got the message out.
func (r *DeliveryReport) Delivered() bool {
	for _, result := range r.Channels {
		if result.Delivered {
			return true
		}
	}
	return false
}

// Dispatcher fans an access notification out to the configured channels.
// The send functions are fields so tests can substitute them.
type Dispatcher struct {
	SendCodeMail      func(to, name, code string, expiresAt time.Time) error
	SendRenewalMail   func(to, name string, expiresAt time.Time) error
	SendCodeWhatsApp  func(to, name, code string, expiresAt time.Time) error
	WhatsAppAvailable func() bool
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		SendCodeMail:      mail.SendAccessCodeMail,
		SendRenewalMail:   mail.SendValidityExtendedMail,
		SendCodeWhatsApp:  whatsapp.SendAccessCode,
		WhatsAppAvailable: whatsapp.IsConfigured,
	}
}

// NotifyAccessIssued delivers the notification on every available channel
// concurrently. One channel failing never stops the other; the report lists
// each attempt separately and is published to the event stream.
func (d *Dispatcher) NotifyAccessIssued(notification AccessNotification) *DeliveryReport {
	report := &DeliveryReport{
		ID:     uuid.NewString(),
		Email:  notification.Email,
		SentAt: time.Now(),
	}

	var wg sync.WaitGroup
	results := make([]ChannelResult, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = d.sendMail(notification)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = d.sendWhatsApp(notification)
	}()

	wg.Wait()
	report.Channels = results

	for _, result := range report.Channels {
		if result.Attempted && !result.Delivered {
			log.Printf("WARN: %s delivery to %s failed: %s", result.Channel, notification.Email, result.Error)
		}
	}

	events.Publish(events.SubjectAccessDelivered, report)
	return report
}

func (d *Dispatcher) sendMail(notification AccessNotification) ChannelResult {
	result := ChannelResult{Channel: ChannelEmail, Attempted: true}

	var err error
	if notification.ValidityExtended {
		err = d.SendRenewalMail(notification.Email, notification.Name, notification.ExpiresAt)
	} else {
		err = d.SendCodeMail(notification.Email, notification.Name, notification.AccessCode, notification.ExpiresAt)
	}
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Delivered = true
	return result
}

func (d *Dispatcher) sendWhatsApp(notification AccessNotification) ChannelResult {
	result := ChannelResult{Channel: ChannelWhatsApp}

	// Renewal confirmations only go out by email.
	if notification.Phone == "" || notification.ValidityExtended || !d.WhatsAppAvailable() {
		return result
	}

	result.Attempted = true
	if err := d.SendCodeWhatsApp(notification.Phone, notification.Name, notification.AccessCode, notification.ExpiresAt); err != nil {
		result.Error = err.Error()
		return result
	}
	result.Delivered = true
	return result
}
