package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCredential() AccessCredential {
	return AccessCredential{
		Email:     "maestra@example.com",
		Name:      "Ana Torres",
		CodeHash:  "$2a$10$abcdefghijklmnopqrstuv",
		ExpiresAt: time.Now().AddDate(0, 0, 90),
		Active:    true,
	}
}

func TestAccessCredentialValidate(t *testing.T) {
	credential := validCredential()
	assert.NoError(t, credential.Validate())

	credential.Email = "not-an-email"
	assert.Error(t, credential.Validate())

	credential = validCredential()
	credential.CodeHash = ""
	assert.Error(t, credential.Validate())
}

func TestAccessCredentialUsability(t *testing.T) {
	credential := validCredential()
	assert.True(t, credential.IsUsable())
	assert.False(t, credential.IsExpired())

	credential.Locked = true
	assert.False(t, credential.IsUsable())

	credential = validCredential()
	credential.Active = false
	assert.False(t, credential.IsUsable())

	credential = validCredential()
	credential.ExpiresAt = time.Now().Add(-time.Minute)
	assert.True(t, credential.IsExpired())
	assert.True(t, credential.IsUsable(), "expiry is not a usability flag, the verifier checks it after the code match")
}

func TestAccessCredentialJSONHidesSecrets(t *testing.T) {
	credential := validCredential()
	credential.FailedAttempts = 3

	data, err := json.Marshal(credential)
	require.NoError(t, err)

	assert.NotContains(t, string(data), "$2a$10$")
	assert.NotContains(t, string(data), "failed_attempts")
	assert.Contains(t, string(data), "maestra@example.com")
}

func TestProjectValidate(t *testing.T) {
	project := Project{
		Email:      "maestra@example.com",
		ProjectKey: "curso-ventas",
		Name:       "Curso de ventas",
	}
	assert.NoError(t, project.Validate())

	project.ProjectKey = ""
	assert.Error(t, project.Validate())
}

func TestPurchaseRecordIsCompleted(t *testing.T) {
	record := PurchaseRecord{Status: PurchaseStatusPending}
	assert.False(t, record.IsCompleted())

	record.Status = PurchaseStatusCompleted
	assert.True(t, record.IsCompleted())
}
