package purchase

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/globalskillscert/skillscert-api/app/models"
	"github.com/globalskillscert/skillscert-api/app/repository"
	"github.com/globalskillscert/skillscert-api/internal/pkg/accesscode"
)

// fakePurchaseRepo emulates the uniqueness constraint on payment_reference
// and the conditional status transitions of the real repository.
type fakePurchaseRepo struct {
	mu      sync.Mutex
	nextID  uint
	byRef   map[string]*models.PurchaseRecord
	byID    map[uint]*models.PurchaseRecord
	failLog []string
}

func newFakePurchaseRepo() *fakePurchaseRepo {
	return &fakePurchaseRepo{
		byRef: make(map[string]*models.PurchaseRecord),
		byID:  make(map[uint]*models.PurchaseRecord),
	}
}

func (r *fakePurchaseRepo) CreatePending(record *models.PurchaseRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byRef[record.PaymentReference]; exists {
		return gorm.ErrDuplicatedKey
	}
	r.nextID++
	record.ID = r.nextID
	record.Status = models.PurchaseStatusPending
	record.UpdatedAt = time.Now()
	stored := *record
	r.byRef[record.PaymentReference] = &stored
	r.byID[record.ID] = &stored
	return nil
}

func (r *fakePurchaseRepo) setUpdatedAt(id uint, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id].UpdatedAt = at
}

func (r *fakePurchaseRepo) GetByPaymentReference(reference string) (*models.PurchaseRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.byRef[reference]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copy := *record
	return &copy, nil
}

func (r *fakePurchaseRepo) MarkCompleted(id uint, credentialID uint, paymentIntent string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.byID[id]
	if !ok || record.Status != models.PurchaseStatusPending {
		return false, nil
	}
	now := time.Now()
	record.Status = models.PurchaseStatusCompleted
	record.CredentialID = &credentialID
	record.PaymentIntent = paymentIntent
	record.CompletedAt = &now
	return true, nil
}

func (r *fakePurchaseRepo) MarkFailed(id uint, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.byID[id]
	if !ok || record.Status != models.PurchaseStatusPending {
		return false, nil
	}
	record.Status = models.PurchaseStatusFailed
	r.failLog = append(r.failLog, reason)
	return true, nil
}

func (r *fakePurchaseRepo) ReclaimStalePending(id uint, updatedBefore time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.byID[id]
	if !ok || record.Status != models.PurchaseStatusPending || !record.UpdatedAt.Before(updatedBefore) {
		return false, nil
	}
	record.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakePurchaseRepo) ReopenFailed(id uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.byID[id]
	if !ok || record.Status != models.PurchaseStatusFailed {
		return false, nil
	}
	record.Status = models.PurchaseStatusPending
	return true, nil
}

func (r *fakePurchaseRepo) CountCompleted() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, record := range r.byID {
		if record.Status == models.PurchaseStatusCompleted {
			count++
		}
	}
	return count, nil
}

func (r *fakePurchaseRepo) MonthlyRevenue(time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type fakeCredentialRepo struct {
	mu             sync.Mutex
	nextID         uint
	creds          map[uint]*models.AccessCredential
	failNextCreate bool
}

func newFakeCredentialRepo() *fakeCredentialRepo {
	return &fakeCredentialRepo{creds: make(map[uint]*models.AccessCredential)}
}

func (r *fakeCredentialRepo) Create(credential *models.AccessCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNextCreate {
		r.failNextCreate = false
		return errors.New("storage unavailable")
	}
	r.nextID++
	credential.ID = r.nextID
	credential.CreatedAt = time.Now()
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
	var newest *models.AccessCredential
	for _, credential := range r.creds {
		if credential.Email != email || !credential.Active {
			continue
		}
		if newest == nil || credential.ID > newest.ID {
			newest = credential
		}
	}
	if newest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	copy := *newest
	return &copy, nil
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
	base := credential.ExpiresAt
	if now := time.Now(); base.Before(now) {
		base = now
	}
	credential.ExpiresAt = base.AddDate(0, 0, days)
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
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, credential := range r.creds {
		if credential.Active {
			count++
		}
	}
	return count, nil
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

type fakeCodeCache struct {
	mu    sync.Mutex
	codes map[string]string
}

func newFakeCodeCache() *fakeCodeCache {
	return &fakeCodeCache{codes: make(map[string]string)}
}

func (c *fakeCodeCache) StoreCode(paymentReference, code string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[paymentReference] = code
	return nil
}

func (c *fakeCodeCache) Code(paymentReference string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	code, ok := c.codes[paymentReference]
	return code, ok
}

type serviceFixture struct {
	service     *Service
	purchases   *fakePurchaseRepo
	credentials *fakeCredentialRepo
	activity    *fakeActivityRepo
	codes       *fakeCodeCache
}

func newServiceFixture() *serviceFixture {
	purchases := newFakePurchaseRepo()
	credentials := newFakeCredentialRepo()
	activity := &fakeActivityRepo{}
	codes := newFakeCodeCache()

	repos := &repository.Repositories{
		Purchase:   purchases,
		Credential: credentials,
		Activity:   activity,
	}
	return &serviceFixture{
		service:     NewService(repos, codes),
		purchases:   purchases,
		credentials: credentials,
		activity:    activity,
		codes:       codes,
	}
}

func testConfirmation(reference string) Confirmation {
	return Confirmation{
		PaymentReference: reference,
		PaymentIntent:    "pi_" + reference,
		Email:            "maestra@example.com",
		Name:             "Ana Torres",
		Phone:            "+525512345678",
		Amount:           decimal.NewFromInt(500),
		Currency:         "mxn",
		Source:           "verify",
	}
}

func TestRecordConfirmedPaymentIssuesCredential(t *testing.T) {
	fx := newServiceFixture()

	access, err := fx.service.RecordConfirmedPayment(testConfirmation("cs_test_1"))
	require.NoError(t, err)
	require.NotNil(t, access)

	assert.False(t, access.Reissued)
	assert.Len(t, access.AccessCode, accesscode.CodeLength)
	for _, symbol := range access.AccessCode {
		assert.Contains(t, accesscode.Alphabet, string(symbol))
	}

	credential, err := fx.credentials.GetActiveByEmail("maestra@example.com")
	require.NoError(t, err)
	assert.True(t, accesscode.Verify(access.AccessCode, credential.CodeHash))
	assert.NotContains(t, credential.CodeHash, access.AccessCode)

	record, err := fx.purchases.GetByPaymentReference("cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseStatusCompleted, record.Status)
	require.NotNil(t, record.CredentialID)
	assert.Equal(t, credential.ID, *record.CredentialID)
	assert.Equal(t, "MXN", record.Currency)

	cached, ok := fx.codes.Code("cs_test_1")
	require.True(t, ok)
	assert.Equal(t, access.AccessCode, cached)
}

func TestRecordConfirmedPaymentReplaysSameOutcome(t *testing.T) {
	fx := newServiceFixture()

	first, err := fx.service.RecordConfirmedPayment(testConfirmation("cs_test_replay"))
	require.NoError(t, err)

	second, err := fx.service.RecordConfirmedPayment(testConfirmation("cs_test_replay"))
	require.NoError(t, err)

	assert.True(t, second.Reissued)
	assert.Equal(t, first.AccessCode, second.AccessCode)

	count, err := fx.credentials.CountActive()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	completed, err := fx.purchases.CountCompleted()
	require.NoError(t, err)
	assert.Equal(t, int64(1), completed)
}

func TestRecordConfirmedPaymentConcurrentConfirmations(t *testing.T) {
	fx := newServiceFixture()

	const workers = 50
	results := make([]*IssuedAccess, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = fx.service.RecordConfirmedPayment(testConfirmation("cs_test_race"))
		}(i)
	}
	wg.Wait()

	issuedCount := 0
	var issuedCode string
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i], "worker %d", i)
		require.NotNil(t, results[i], "worker %d", i)
		if !results[i].Reissued {
			issuedCount++
			issuedCode = results[i].AccessCode
		}
	}
	assert.Equal(t, 1, issuedCount, "exactly one confirmation performs issuance")

	for i := 0; i < workers; i++ {
		assert.Equal(t, issuedCode, results[i].AccessCode, "worker %d", i)
	}

	count, err := fx.credentials.CountActive()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRecordConfirmedPaymentRetriesAfterStorageFailure(t *testing.T) {
	fx := newServiceFixture()
	fx.credentials.failNextCreate = true

	_, err := fx.service.RecordConfirmedPayment(testConfirmation("cs_test_retry"))
	require.Error(t, err)

	record, err := fx.purchases.GetByPaymentReference("cs_test_retry")
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseStatusFailed, record.Status)

	access, err := fx.service.RecordConfirmedPayment(testConfirmation("cs_test_retry"))
	require.NoError(t, err)
	assert.False(t, access.Reissued)
	assert.NotEmpty(t, access.AccessCode)

	record, err = fx.purchases.GetByPaymentReference("cs_test_retry")
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseStatusCompleted, record.Status)
}

func TestRecordConfirmedPaymentRenewalRotatesCode(t *testing.T) {
	fx := newServiceFixture()

	first, err := fx.service.RecordConfirmedPayment(testConfirmation("cs_test_renew_1"))
	require.NoError(t, err)

	second, err := fx.service.RecordConfirmedPayment(testConfirmation("cs_test_renew_2"))
	require.NoError(t, err)

	assert.False(t, second.Reissued)
	assert.NotEqual(t, first.AccessCode, second.AccessCode)

	count, err := fx.credentials.CountActive()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "renewal reuses the credential row")

	credential, err := fx.credentials.GetActiveByEmail("maestra@example.com")
	require.NoError(t, err)
	assert.False(t, accesscode.Verify(first.AccessCode, credential.CodeHash), "old code must stop working")
	assert.True(t, accesscode.Verify(second.AccessCode, credential.CodeHash))
}

func TestRecordConfirmedPaymentRenewalExtendsValidity(t *testing.T) {
	t.Setenv("ACCESS_RENEWAL_POLICY", "extend")
	fx := newServiceFixture()

	first, err := fx.service.RecordConfirmedPayment(testConfirmation("cs_test_extend_1"))
	require.NoError(t, err)

	second, err := fx.service.RecordConfirmedPayment(testConfirmation("cs_test_extend_2"))
	require.NoError(t, err)

	assert.Empty(t, second.AccessCode, "extend keeps the existing code")
	assert.True(t, second.ExpiresAt.After(first.ExpiresAt))

	credential, err := fx.credentials.GetActiveByEmail("maestra@example.com")
	require.NoError(t, err)
	assert.True(t, accesscode.Verify(first.AccessCode, credential.CodeHash), "original code stays valid")
}

func TestRecordConfirmedPaymentReclaimsAbandonedPending(t *testing.T) {
	fx := newServiceFixture()

	// A worker reserved the reference and died before resolving it.
	abandoned := &models.PurchaseRecord{
		PaymentReference: "cs_test_stale",
		Email:            "maestra@example.com",
	}
	require.NoError(t, fx.purchases.CreatePending(abandoned))
	fx.purchases.setUpdatedAt(abandoned.ID, time.Now().Add(-10*time.Minute))

	access, err := fx.service.RecordConfirmedPayment(testConfirmation("cs_test_stale"))
	require.NoError(t, err)
	assert.False(t, access.Reissued)
	assert.NotEmpty(t, access.AccessCode)

	record, err := fx.purchases.GetByPaymentReference("cs_test_stale")
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseStatusCompleted, record.Status)
}

func TestRecordConfirmedPaymentWaitsOnFreshPending(t *testing.T) {
	fx := newServiceFixture()

	// A recent reservation is still in flight; the caller must wait it out
	// and report the conflict, not steal the row.
	fresh := &models.PurchaseRecord{
		PaymentReference: "cs_test_inflight",
		Email:            "maestra@example.com",
	}
	require.NoError(t, fx.purchases.CreatePending(fresh))

	_, err := fx.service.RecordConfirmedPayment(testConfirmation("cs_test_inflight"))
	assert.ErrorIs(t, err, ErrConfirmationInProgress)

	record, err := fx.purchases.GetByPaymentReference("cs_test_inflight")
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseStatusPending, record.Status)
}

func TestRecordConfirmedPaymentValidatesInput(t *testing.T) {
	fx := newServiceFixture()

	conf := testConfirmation("cs_test_invalid")
	conf.PaymentReference = ""
	_, err := fx.service.RecordConfirmedPayment(conf)
	assert.Error(t, err)

	conf = testConfirmation("cs_test_invalid")
	conf.Email = "   "
	_, err = fx.service.RecordConfirmedPayment(conf)
	assert.Error(t, err)
}

func TestRecordConfirmedPaymentNormalizesEmail(t *testing.T) {
	fx := newServiceFixture()

	conf := testConfirmation("cs_test_case")
	conf.Email = "  Maestra@Example.COM "
	access, err := fx.service.RecordConfirmedPayment(conf)
	require.NoError(t, err)
	assert.Equal(t, "maestra@example.com", access.Email)
	assert.Equal(t, strings.ToLower(access.Email), access.Email)
}
