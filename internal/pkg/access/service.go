package access

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/globalskillscert/skillscert-api/app/models"
	"github.com/globalskillscert/skillscert-api/app/repository"
	"github.com/globalskillscert/skillscert-api/internal/pkg/accesscode"
	"github.com/globalskillscert/skillscert-api/internal/pkg/env"
)

const defaultLockThreshold = 4

// Login outcomes. ErrInvalidCredentials deliberately covers both "no such
// account" and "wrong code" so the response does not confirm which emails
// hold a credential.
var (
	ErrInvalidCredentials = errors.New("invalid email or access code")
	ErrAccountLocked      = errors.New("account locked after too many failed attempts")
	ErrAccessExpired      = errors.New("access period has expired")
)

// ResendResult carries the rotated code for notification delivery.
type ResendResult struct {
	Email      string
	Name       string
	Phone      string
	AccessCode string
	ExpiresAt  time.Time
}

// Service verifies access codes and manages lockout state. All state changes
// go through conditional repository updates, so two racing logins cannot
// reset each other's failure counters or log in past a lock.
type Service struct {
	repos         *repository.Repositories
	lockThreshold uint
}

func NewService(repos *repository.Repositories) *Service {
	threshold := env.GetEnvInt("ACCESS_MAX_FAILED_ATTEMPTS", defaultLockThreshold)
	if threshold <= 0 {
		threshold = defaultLockThreshold
	}
	return &Service{
		repos:         repos,
		lockThreshold: uint(threshold),
	}
}

// Login verifies an email/code pair. Expiry is checked only after the code
// matched, so probing with wrong codes never reveals whether a credential
// expired; wrong codes still count toward lockout on expired credentials.
func (s *Service) Login(email, code, ipAddress, correlationID string) (*models.AccessCredential, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	code = strings.ToUpper(strings.TrimSpace(code))
	if email == "" || code == "" {
		return nil, ErrInvalidCredentials
	}

	credential, err := s.repos.Credential.GetActiveByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.audit(email, models.ActivityLoginFailed, "unknown email", ipAddress, correlationID)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	if credential.Locked {
		s.audit(email, models.ActivityLoginFailed, "credential locked", ipAddress, correlationID)
		return nil, ErrAccountLocked
	}

	if !accesscode.Verify(code, credential.CodeHash) {
		refreshed, err := s.repos.Credential.RegisterFailedAttempt(credential.ID, s.lockThreshold)
		if err != nil {
			return nil, fmt.Errorf("failed to register failed attempt: %w", err)
		}
		description := "wrong access code"
		if refreshed.Locked {
			description = "wrong access code, credential now locked"
		}
		s.audit(email, models.ActivityLoginFailed, description, ipAddress, correlationID)
		// Even the attempt that crosses the lock threshold reads as a plain
		// mismatch; the distinct locked response is reserved for attempts
		// against an already locked credential.
		return nil, ErrInvalidCredentials
	}

	if credential.IsExpired() {
		s.audit(email, models.ActivityLoginFailed, "access expired", ipAddress, correlationID)
		return nil, ErrAccessExpired
	}

	applied, err := s.repos.Credential.RegisterSuccessfulLogin(credential.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to register login: %w", err)
	}
	if !applied {
		// A concurrent failure run locked the credential between our read and
		// this update; the lock wins.
		return nil, ErrAccountLocked
	}

	s.audit(email, models.ActivityLoginSuccess, "login", ipAddress, correlationID)
	return s.repos.Credential.GetByID(credential.ID)
}

// ResendCode rotates the access code of an active credential so it can be
// delivered again. The old code stops working immediately; the validity
// window is left untouched.
func (s *Service) ResendCode(email, ipAddress, correlationID string) (*ResendResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrInvalidCredentials
	}

	credential, err := s.repos.Credential.GetActiveByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if credential.IsExpired() {
		return nil, ErrAccessExpired
	}

	code, err := accesscode.Generate()
	if err != nil {
		return nil, err
	}
	hash, err := accesscode.Hash(code)
	if err != nil {
		return nil, fmt.Errorf("failed to hash access code: %w", err)
	}

	applied, err := s.repos.Credential.RotateSecret(credential.ID, hash, credential.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to rotate access code: %w", err)
	}
	if !applied {
		return nil, ErrInvalidCredentials
	}

	s.audit(email, models.ActivityCodeResent, "access code rotated and resent", ipAddress, correlationID)

	return &ResendResult{
		Email:      credential.Email,
		Name:       credential.Name,
		Phone:      credential.Phone,
		AccessCode: code,
		ExpiresAt:  credential.ExpiresAt,
	}, nil
}

func (s *Service) audit(email, action, description, ipAddress, correlationID string) {
	err := s.repos.Activity.Record(&models.ActivityLog{
		Email:         email,
		Action:        action,
		Description:   description,
		IPAddress:     ipAddress,
		CorrelationID: correlationID,
	})
	if err != nil {
		log.Printf("Warning: could not record activity log entry: %v", err)
	}
}
