package providers

import "github.com/go-redis/redis/v8"

// NewRedisProvider returns nil when addr is empty; callers treat a nil
// client as "no shared cache".
func NewRedisProvider(addr, password string) redis.UniversalClient {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
}
