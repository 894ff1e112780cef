package purchase

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/globalskillscert/skillscert-api/app/models"
	"github.com/globalskillscert/skillscert-api/app/repository"
	"github.com/globalskillscert/skillscert-api/internal/pkg/accesscode"
	"github.com/globalskillscert/skillscert-api/internal/pkg/env"
)

// Renewal policies for a purchase by an email that already holds an active
// credential. Rotate issues a fresh code and restarts the validity window;
// extend keeps the existing code and adds the purchased days on top.
const (
	RenewalPolicyRotate = "rotate"
	RenewalPolicyExtend = "extend"
)

const (
	// How long the recorder waits for a concurrent confirmation of the same
	// payment reference to finish before giving up.
	pendingWaitAttempts  = 10
	pendingWaitInterval  = 200 * time.Millisecond
	defaultValidityDays  = 90
	codeRedeliveryWindow = 24 * time.Hour

	// A pending row this old belongs to a worker that died mid-issuance;
	// the next confirmation of the reference may take it over.
	pendingStaleAfter = 2 * time.Minute
)

// ErrConfirmationInProgress is returned when another worker holds the pending
// reservation for the same payment reference and has not resolved it within
// the wait window. The caller should have the client retry.
var ErrConfirmationInProgress = errors.New("payment confirmation already in progress")

// Confirmation carries a provider-settled payment into the recorder. Both
// confirmation paths (webhook delivery and the client verify call) build one
// of these from the checkout session and hand it to RecordConfirmedPayment.
type Confirmation struct {
	PaymentReference string
	PaymentIntent    string
	Email            string
	Name             string
	Phone            string
	Amount           decimal.Decimal
	Currency         string
	Source           string // "webhook" or "verify", audit only
	IPAddress        string
	CorrelationID    string
}

// IssuedAccess is the recorder outcome. AccessCode is the plaintext code to
// hand to the purchaser; on a replayed confirmation it is served from the
// redelivery cache and may be empty once that window has passed.
type IssuedAccess struct {
	Email      string
	Name       string
	Phone      string
	AccessCode string
	ExpiresAt  time.Time
	Reissued   bool
}

// CodeCache holds plaintext access codes for a bounded redelivery window,
// keyed by payment reference. Credentials themselves only store the hash, so
// this cache is the only way a replayed confirmation can return the same code
// the first confirmation produced.
type CodeCache interface {
	StoreCode(paymentReference, code string, ttl time.Duration) error
	Code(paymentReference string) (string, bool)
}

// Service turns settled payments into access credentials exactly once per
// payment reference. The unique index on purchase_records.payment_reference
// is the serialization point: the first confirmation to insert the pending
// row performs issuance, every other confirmation takes the read path.
type Service struct {
	repos         *repository.Repositories
	codes         CodeCache
	renewalPolicy string
	validityDays  int
}

func NewService(repos *repository.Repositories, codes CodeCache) *Service {
	return &Service{
		repos:         repos,
		codes:         codes,
		renewalPolicy: renewalPolicyFromEnv(),
		validityDays:  validityDaysFromEnv(),
	}
}

func renewalPolicyFromEnv() string {
	policy := strings.ToLower(strings.TrimSpace(env.GetEnv("ACCESS_RENEWAL_POLICY", RenewalPolicyRotate)))
	if policy != RenewalPolicyExtend {
		return RenewalPolicyRotate
	}
	return RenewalPolicyExtend
}

func validityDaysFromEnv() int {
	days := env.GetEnvInt("ACCESS_VALIDITY_DAYS", defaultValidityDays)
	if days <= 0 {
		return defaultValidityDays
	}
	return days
}

// RecordConfirmedPayment records a provider-settled payment and returns the
// access it grants. Safe to call any number of times with the same payment
// reference, from any number of goroutines: exactly one call performs
// issuance, the rest observe its result.
func (s *Service) RecordConfirmedPayment(conf Confirmation) (*IssuedAccess, error) {
	conf.Email = strings.ToLower(strings.TrimSpace(conf.Email))
	if conf.PaymentReference == "" {
		return nil, errors.New("payment reference is required")
	}
	if conf.Email == "" {
		return nil, errors.New("purchaser email is required")
	}

	record := &models.PurchaseRecord{
		PaymentReference: conf.PaymentReference,
		Email:            conf.Email,
		Name:             conf.Name,
		Phone:            conf.Phone,
		Amount:           conf.Amount,
		Currency:         strings.ToUpper(conf.Currency),
		PaymentIntent:    conf.PaymentIntent,
	}

	err := s.repos.Purchase.CreatePending(record)
	switch {
	case err == nil:
		return s.issue(record, conf)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return s.resolveExisting(conf)
	default:
		return nil, fmt.Errorf("failed to reserve payment reference: %w", err)
	}
}

// resolveExisting handles a confirmation that lost the insert race. A
// completed record is replayed from the cache, a failed record is reopened
// and retried, and a pending record belongs to a worker that is still
// issuing, so we wait for it. A pending record that stopped moving is
// reclaimed instead, so a crashed worker cannot park the reference forever.
func (s *Service) resolveExisting(conf Confirmation) (*IssuedAccess, error) {
	for attempt := 0; attempt < pendingWaitAttempts; attempt++ {
		record, err := s.repos.Purchase.GetByPaymentReference(conf.PaymentReference)
		if err != nil {
			return nil, fmt.Errorf("failed to load purchase record: %w", err)
		}

		switch record.Status {
		case models.PurchaseStatusCompleted:
			return s.replay(record)
		case models.PurchaseStatusFailed:
			applied, err := s.repos.Purchase.ReopenFailed(record.ID)
			if err != nil {
				return nil, err
			}
			if applied {
				return s.issue(record, conf)
			}
			// Another confirmation reopened it first; observe its outcome.
		case models.PurchaseStatusPending:
			cutoff := time.Now().Add(-pendingStaleAfter)
			if record.UpdatedAt.Before(cutoff) {
				applied, err := s.repos.Purchase.ReclaimStalePending(record.ID, cutoff)
				if err != nil {
					return nil, fmt.Errorf("failed to reclaim stale purchase record: %w", err)
				}
				if applied {
					return s.issue(record, conf)
				}
				// Another waiter reclaimed it; observe that worker's outcome.
			}
			time.Sleep(pendingWaitInterval)
		}
	}
	return nil, ErrConfirmationInProgress
}

// replay serves the outcome of an already completed purchase without touching
// the credential. The plaintext code comes from the redelivery cache; outside
// that window the caller still learns the purchase settled, just without the
// code itself.
func (s *Service) replay(record *models.PurchaseRecord) (*IssuedAccess, error) {
	access := &IssuedAccess{
		Email:    record.Email,
		Name:     record.Name,
		Phone:    record.Phone,
		Reissued: true,
	}
	if record.CredentialID != nil {
		credential, err := s.repos.Credential.GetByID(*record.CredentialID)
		if err == nil {
			access.ExpiresAt = credential.ExpiresAt
		}
	}
	if code, ok := s.codes.Code(record.PaymentReference); ok {
		access.AccessCode = code
	}
	return access, nil
}

// issue creates or renews the credential for a purchase whose pending row we
// own. Failures mark the record failed so a later confirmation of the same
// reference can retry; success completes it exactly once.
func (s *Service) issue(record *models.PurchaseRecord, conf Confirmation) (*IssuedAccess, error) {
	access, credentialID, err := s.grantAccess(conf)
	if err != nil {
		if _, markErr := s.repos.Purchase.MarkFailed(record.ID, err.Error()); markErr != nil {
			log.Printf("Error marking purchase %s failed: %v", conf.PaymentReference, markErr)
		}
		return nil, err
	}

	// Cache before the completed transition so any reader that observes the
	// completed record also finds the code.
	if access.AccessCode != "" {
		if err := s.codes.StoreCode(conf.PaymentReference, access.AccessCode, codeRedeliveryWindow); err != nil {
			log.Printf("Warning: could not cache access code for redelivery: %v", err)
		}
	}

	applied, err := s.repos.Purchase.MarkCompleted(record.ID, credentialID, conf.PaymentIntent)
	if err != nil {
		return nil, fmt.Errorf("failed to complete purchase record: %w", err)
	}
	if !applied {
		// Lost a reopen race after issuing; the surviving worker's outcome
		// stands and this one replays it.
		fresh, err := s.repos.Purchase.GetByPaymentReference(conf.PaymentReference)
		if err != nil {
			return nil, err
		}
		return s.replay(fresh)
	}

	s.audit(conf, access)
	return access, nil
}

// grantAccess creates a fresh credential, or applies the renewal policy when
// the email already holds an active one.
func (s *Service) grantAccess(conf Confirmation) (*IssuedAccess, uint, error) {
	existing, err := s.repos.Credential.GetActiveByEmail(conf.Email)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, fmt.Errorf("failed to look up existing credential: %w", err)
	}

	if existing != nil {
		return s.renew(existing, conf)
	}

	code, err := accesscode.Generate()
	if err != nil {
		return nil, 0, err
	}
	hash, err := accesscode.Hash(code)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to hash access code: %w", err)
	}

	credential := &models.AccessCredential{
		Email:     conf.Email,
		Name:      conf.Name,
		Phone:     conf.Phone,
		CodeHash:  hash,
		ExpiresAt: time.Now().AddDate(0, 0, s.validityDays),
		Active:    true,
	}
	if err := s.repos.Credential.Create(credential); err != nil {
		return nil, 0, fmt.Errorf("failed to create access credential: %w", err)
	}

	return &IssuedAccess{
		Email:      credential.Email,
		Name:       credential.Name,
		Phone:      credential.Phone,
		AccessCode: code,
		ExpiresAt:  credential.ExpiresAt,
	}, credential.ID, nil
}

// renew applies the configured renewal policy to an existing credential.
func (s *Service) renew(credential *models.AccessCredential, conf Confirmation) (*IssuedAccess, uint, error) {
	if s.renewalPolicy == RenewalPolicyExtend {
		if _, err := s.repos.Credential.ExtendValidity(credential.ID, s.validityDays); err != nil {
			return nil, 0, fmt.Errorf("failed to extend credential validity: %w", err)
		}
		refreshed, err := s.repos.Credential.GetByID(credential.ID)
		if err != nil {
			return nil, 0, err
		}
		// The existing code stays valid, so there is no plaintext to return.
		return &IssuedAccess{
			Email:     refreshed.Email,
			Name:      refreshed.Name,
			Phone:     refreshed.Phone,
			ExpiresAt: refreshed.ExpiresAt,
		}, refreshed.ID, nil
	}

	code, err := accesscode.Generate()
	if err != nil {
		return nil, 0, err
	}
	hash, err := accesscode.Hash(code)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to hash access code: %w", err)
	}

	expiresAt := time.Now().AddDate(0, 0, s.validityDays)
	if _, err := s.repos.Credential.RotateSecret(credential.ID, hash, expiresAt); err != nil {
		return nil, 0, fmt.Errorf("failed to rotate access code: %w", err)
	}

	return &IssuedAccess{
		Email:      credential.Email,
		Name:       credential.Name,
		Phone:      credential.Phone,
		AccessCode: code,
		ExpiresAt:  expiresAt,
	}, credential.ID, nil
}

func (s *Service) audit(conf Confirmation, access *IssuedAccess) {
	entry := &models.ActivityLog{
		Email:         conf.Email,
		Action:        models.ActivityPaymentVerified,
		Description:   fmt.Sprintf("payment %s confirmed via %s, access until %s", conf.PaymentReference, conf.Source, access.ExpiresAt.Format(time.RFC3339)),
		IPAddress:     conf.IPAddress,
		CorrelationID: conf.CorrelationID,
	}
	if err := s.repos.Activity.Record(entry); err != nil {
		log.Printf("Warning: could not record activity log entry: %v", err)
	}
}
