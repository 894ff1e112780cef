package access

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/globalskillscert/skillscert-api/app/models"
	"github.com/globalskillscert/skillscert-api/app/repository"
	"github.com/globalskillscert/skillscert-api/internal/pkg/accesscode"
)

type fakeCredentialRepo struct {
	mu     sync.Mutex
	nextID uint
	creds  map[uint]*models.AccessCredential
}

func newFakeCredentialRepo() *fakeCredentialRepo {
	return &fakeCredentialRepo{creds: make(map[uint]*models.AccessCredential)}
}

func (r *fakeCredentialRepo) Create(credential *models.AccessCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	credential.ID = r.nextID
	stored := *credential
	r.creds[credential.ID] = &stored
	return nil
}

func (r *fakeCredentialRepo) GetByID(id uint) (*models.AccessCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	credential, ok := r.creds[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copy := *credential
	return &copy, nil
}

func (r *fakeCredentialRepo) GetActiveByEmail(email string) (*models.AccessCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, credential := range r.creds {
		if credential.Email == email && credential.Active {
			copy := *credential
			return &copy, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeCredentialRepo) RegisterFailedAttempt(id uint, lockThreshold uint) (*models.AccessCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	credential, ok := r.creds[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	if !credential.Locked && credential.Active {
		credential.FailedAttempts++
		if credential.FailedAttempts >= lockThreshold {
			credential.Locked = true
		}
	}
	copy := *credential
	return &copy, nil
}

func (r *fakeCredentialRepo) RegisterSuccessfulLogin(id uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	credential, ok := r.creds[id]
	if !ok || credential.Locked || !credential.Active {
		return false, nil
	}
	now := time.Now()
	credential.FailedAttempts = 0
	credential.UsedCount++
	credential.LastUsedAt = &now
	return true, nil
}

func (r *fakeCredentialRepo) RotateSecret(id uint, codeHash string, expiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	credential, ok := r.creds[id]
	if !ok {
		return false, nil
	}
	credential.CodeHash = codeHash
	credential.ExpiresAt = expiresAt
	credential.FailedAttempts = 0
	credential.Locked = false
	credential.Active = true
	return true, nil
}

func (r *fakeCredentialRepo) ExtendValidity(id uint, days int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	credential, ok := r.creds[id]
	if !ok {
		return false, nil
	}
	credential.ExpiresAt = credential.ExpiresAt.AddDate(0, 0, days)
	credential.Active = true
	return true, nil
}

func (r *fakeCredentialRepo) Deactivate(email string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var affected int64
	for _, credential := range r.creds {
		if credential.Email == email && credential.Active {
			credential.Active = false
			affected++
		}
	}
	return affected, nil
}

func (r *fakeCredentialRepo) CountActive() (int64, error) {
	return 0, nil
}

type fakeActivityRepo struct {
	mu      sync.Mutex
	entries []models.ActivityLog
}

func (r *fakeActivityRepo) Record(entry *models.ActivityLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeActivityRepo) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	actions := make([]string, len(r.entries))
	for i, entry := range r.entries {
		actions[i] = entry.Action
	}
	return actions
}

type loginFixture struct {
	service     *Service
	credentials *fakeCredentialRepo
	activity    *fakeActivityRepo
	code        string
}

func newLoginFixture(t *testing.T) *loginFixture {
	t.Helper()

	credentials := newFakeCredentialRepo()
	activity := &fakeActivityRepo{}

	code, err := accesscode.Generate()
	require.NoError(t, err)
	hash, err := accesscode.Hash(code)
	require.NoError(t, err)

	require.NoError(t, credentials.Create(&models.AccessCredential{
		Email:     "maestra@example.com",
		Name:      "Ana Torres",
		CodeHash:  hash,
		ExpiresAt: time.Now().AddDate(0, 0, 30),
		Active:    true,
	}))

	repos := &repository.Repositories{
		Credential: credentials,
		Activity:   activity,
	}
	return &loginFixture{
		service:     NewService(repos),
		credentials: credentials,
		activity:    activity,
		code:        code,
	}
}

func TestLoginSucceedsWithCorrectCode(t *testing.T) {
	fx := newLoginFixture(t)

	credential, err := fx.service.Login("maestra@example.com", fx.code, "127.0.0.1", "")
	require.NoError(t, err)
	assert.Equal(t, uint(1), credential.UsedCount)
	assert.NotNil(t, credential.LastUsedAt)
	assert.Contains(t, fx.activity.actions(), models.ActivityLoginSuccess)
}

func TestLoginNormalizesInput(t *testing.T) {
	fx := newLoginFixture(t)

	_, err := fx.service.Login("  Maestra@Example.COM ", "  "+fx.code+" ", "", "")
	require.NoError(t, err)
}

func TestLoginRejectsWrongCodeGenerically(t *testing.T) {
	fx := newLoginFixture(t)

	_, err := fx.service.Login("maestra@example.com", "WRONGCOD", "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = fx.service.Login("nobody@example.com", fx.code, "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "unknown email must be indistinguishable from a wrong code")
}

func TestLoginLocksAfterThreshold(t *testing.T) {
	fx := newLoginFixture(t)

	// Every mismatch answers generically, including the one that trips the
	// lock; the lock itself only shows on later attempts.
	for i := 0; i < 4; i++ {
		_, err := fx.service.Login("maestra@example.com", "WRONGCOD", "", "")
		assert.ErrorIs(t, err, ErrInvalidCredentials, "attempt %d", i+1)
	}

	// The correct code no longer helps once locked.
	_, err := fx.service.Login("maestra@example.com", fx.code, "", "")
	assert.ErrorIs(t, err, ErrAccountLocked)

	_, err = fx.service.Login("maestra@example.com", "WRONGCOD", "", "")
	assert.ErrorIs(t, err, ErrAccountLocked, "wrong code against a locked credential reports the lock")
}

func TestLoginSuccessResetsFailureCounter(t *testing.T) {
	fx := newLoginFixture(t)

	for i := 0; i < 3; i++ {
		_, _ = fx.service.Login("maestra@example.com", "WRONGCOD", "", "")
	}
	_, err := fx.service.Login("maestra@example.com", fx.code, "", "")
	require.NoError(t, err)

	// Counter restarted, so three more wrong attempts still do not lock.
	for i := 0; i < 3; i++ {
		_, err := fx.service.Login("maestra@example.com", "WRONGCOD", "", "")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}
}

func TestLoginExpiredCredential(t *testing.T) {
	fx := newLoginFixture(t)
	fx.credentials.creds[1].ExpiresAt = time.Now().Add(-time.Hour)

	// A wrong code on an expired credential must not reveal the expiry.
	_, err := fx.service.Login("maestra@example.com", "WRONGCOD", "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = fx.service.Login("maestra@example.com", fx.code, "", "")
	assert.ErrorIs(t, err, ErrAccessExpired)
}

func TestLoginDeactivatedCredential(t *testing.T) {
	fx := newLoginFixture(t)
	_, err := fx.credentials.Deactivate("maestra@example.com")
	require.NoError(t, err)

	_, err = fx.service.Login("maestra@example.com", fx.code, "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestResendCodeRotatesSecret(t *testing.T) {
	fx := newLoginFixture(t)

	result, err := fx.service.ResendCode("maestra@example.com", "", "")
	require.NoError(t, err)
	assert.Len(t, result.AccessCode, accesscode.CodeLength)
	assert.NotEqual(t, fx.code, result.AccessCode)

	// Old code is dead, new one works.
	_, err = fx.service.Login("maestra@example.com", fx.code, "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = fx.service.Login("maestra@example.com", result.AccessCode, "", "")
	require.NoError(t, err)

	assert.Contains(t, fx.activity.actions(), models.ActivityCodeResent)
}

func TestResendCodeClearsLockout(t *testing.T) {
	fx := newLoginFixture(t)

	for i := 0; i < 4; i++ {
		_, _ = fx.service.Login("maestra@example.com", "WRONGCOD", "", "")
	}
	_, err := fx.service.Login("maestra@example.com", fx.code, "", "")
	require.ErrorIs(t, err, ErrAccountLocked)

	result, err := fx.service.ResendCode("maestra@example.com", "", "")
	require.NoError(t, err)

	_, err = fx.service.Login("maestra@example.com", result.AccessCode, "", "")
	require.NoError(t, err)
}

func TestResendCodeUnknownEmail(t *testing.T) {
	fx := newLoginFixture(t)

	_, err := fx.service.ResendCode("nobody@example.com", "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestResendCodeExpiredCredential(t *testing.T) {
	fx := newLoginFixture(t)
	fx.credentials.creds[1].ExpiresAt = time.Now().Add(-time.Hour)

	_, err := fx.service.ResendCode("maestra@example.com", "", "")
	assert.ErrorIs(t, err, ErrAccessExpired)
}
