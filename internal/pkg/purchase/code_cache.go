package purchase

import (
	"time"

	"github.com/globalskillscert/skillscert-api/internal/pkg/cache"
)

const codeCacheKeyPrefix = "access_code:"

// redisCodeCache keeps plaintext codes in Redis for the redelivery window.
// The database only ever sees the bcrypt hash.
type redisCodeCache struct{}

func NewRedisCodeCache() CodeCache {
	return redisCodeCache{}
}

func (redisCodeCache) StoreCode(paymentReference, code string, ttl time.Duration) error {
	return cache.Set(codeCacheKeyPrefix+paymentReference, code, ttl)
}

func (redisCodeCache) Code(paymentReference string) (string, bool) {
	code, err := cache.Get(codeCacheKeyPrefix + paymentReference)
	if err != nil || code == "" {
		return "", false
	}
	return code, true
}
