package jwt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync/atomic"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/osvaldoandrade/tokengate/pkg/jwt/keys"
)

var (
	testSecret = []byte("0123456789abcdef0123456789abcdef")
	testRSAKey *rsa.PrivateKey
)

func init() {
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	testRSAKey = k
}

func signHS256(t testing.TB, claims gojwt.MapClaims) string {
	t.Helper()
	return signWith(t, gojwt.SigningMethodHS256, testSecret, "", claims)
}

func signWith(t testing.TB, method gojwt.SigningMethod, key any, kid string, claims gojwt.MapClaims) string {
	t.Helper()
	tok := gojwt.NewWithClaims(method, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func accessClaims(iss, aud string, exp time.Time) gojwt.MapClaims {
	return gojwt.MapClaims{
		"iss":   iss,
		"aud":   aud,
		"exp":   exp.Unix(),
		"iat":   time.Now().Add(-time.Minute).Unix(),
		"scope": "openid profile",
	}
}

func idClaims(iss, aud, sub string, exp time.Time) gojwt.MapClaims {
	return gojwt.MapClaims{
		"iss": iss,
		"aud": aud,
		"sub": sub,
		"exp": exp.Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	}
}

func hsStore() *keys.Store {
	return keys.NewStore(keys.WithStaticKeys(keys.SymmetricKey("HS256", "", testSecret)))
}

// countingProvider records how often key resolution was attempted.
type countingProvider struct {
	inner keys.Provider
	calls atomic.Int32
}

func (p *countingProvider) Resolve(ctx context.Context, alg, kid string) (keys.Material, error) {
	p.calls.Add(1)
	return p.inner.Resolve(ctx, alg, kid)
}

func mustValidated(t testing.TB, algs []string, provider keys.Provider, opts ...ValidatedOption) *Validated {
	t.Helper()
	v, err := NewValidated(algs, provider, opts...)
	if err != nil {
		t.Fatalf("new validated strategy: %v", err)
	}
	return v
}
