package jwt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/osvaldoandrade/tokengate/pkg/jwt/keys"
)

// Strategy selects how tokens are decoded. It is either Unvalidated or
// *Validated.
type Strategy interface {
	strategy()
}

// Unvalidated checks structure and claim shape only. Signatures, expiry,
// issuer and audience are ignored, so it must only be used where tokens are
// already trusted.
type Unvalidated struct{}

func (Unvalidated) strategy() {}

// Validated performs full verification against an allow-list of algorithms.
type Validated struct {
	algorithms map[string]struct{}
	keys       keys.Provider
	leeway     time.Duration
	now        func() time.Time
}

func (*Validated) strategy() {}

// ValidatedOption configures a Validated strategy.
type ValidatedOption func(*Validated)

// WithLeeway tolerates clock skew when checking exp and nbf.
func WithLeeway(d time.Duration) ValidatedOption {
	return func(v *Validated) {
		if d > 0 {
			v.leeway = d
		}
	}
}

// WithNow overrides the validation clock.
func WithNow(now func() time.Time) ValidatedOption {
	return func(v *Validated) { v.now = now }
}

// NewValidated builds a strategy accepting only algs, resolving keys through
// provider.
func NewValidated(algs []string, provider keys.Provider, opts ...ValidatedOption) (*Validated, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: validation requires a key provider", ErrInvalidConfig)
	}
	parsed, err := ParseAlgorithms(algs)
	if err != nil {
		return nil, err
	}
	if len(parsed) == 0 {
		return nil, fmt.Errorf("%w: no signature algorithms configured", ErrInvalidConfig)
	}
	v := &Validated{
		algorithms: make(map[string]struct{}, len(parsed)),
		keys:       provider,
		now:        time.Now,
	}
	for _, alg := range parsed {
		v.algorithms[alg] = struct{}{}
	}
	for _, o := range opts {
		o(v)
	}
	return v, nil
}

// Algorithms returns the allowed algorithms.
func (v *Validated) Algorithms() []string {
	out := make([]string, 0, len(v.algorithms))
	for _, alg := range SupportedAlgorithms() {
		if _, ok := v.algorithms[alg]; ok {
			out = append(out, alg)
		}
	}
	return out
}

// Expectations constrains iss and aud. Empty values are not checked.
type Expectations struct {
	Issuer   string
	Audience string
	// RequireAudience makes a set Audience mandatory to match.
	RequireAudience bool
}

// Decode parses token into T according to s.
//
// Validated checks, in order: algorithm allow-list, key resolution,
// signature, claim shape, exp/nbf, issuer, audience. Structural problems are
// reported before any of them.
func Decode[T Claims](ctx context.Context, s Strategy, token string, exp Expectations) (*T, error) {
	raw, err := parseToken(token)
	if err != nil {
		return nil, err
	}

	switch st := s.(type) {
	case Unvalidated:
		return decodeClaims[T](raw)
	case *Validated:
		if err := st.verify(ctx, raw); err != nil {
			return nil, err
		}
		out, err := decodeClaims[T](raw)
		if err != nil {
			return nil, err
		}
		if err := st.checkClaims(any(out).(claimSet).registered(), exp); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown decoding strategy %T", ErrInvalidConfig, s)
	}
}

func (v *Validated) verify(ctx context.Context, raw *rawToken) error {
	alg := raw.header.Algorithm
	if _, ok := v.algorithms[alg]; !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	method := gojwt.GetSigningMethod(alg)
	if method == nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}

	m, err := v.keys.Resolve(ctx, alg, raw.header.KeyID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrKeyResolution, err)
	}
	if err := checkKeyType(alg, m); err != nil {
		return err
	}

	if err := method.Verify(raw.signingString, raw.signature, m.Key); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

// checkKeyType keeps a public key from being used as an HMAC secret and the
// reverse.
func checkKeyType(alg string, m keys.Material) error {
	want := keys.Asymmetric
	if keys.IsSymmetricAlgorithm(alg) {
		want = keys.Symmetric
	}
	if m.Type != want {
		return fmt.Errorf("%w: %s key cannot verify %s", ErrKeyResolution, m.Type, alg)
	}
	return nil
}

func (v *Validated) checkClaims(r registeredClaims, exp Expectations) error {
	now := v.now()
	if r.expiresAt != nil && !now.Before(r.expiresAt.Add(v.leeway)) {
		return fmt.Errorf("%w: expired at %s", ErrExpired, r.expiresAt.UTC().Format(time.RFC3339))
	}
	if r.notBefore != nil && now.Before(r.notBefore.Add(-v.leeway)) {
		return fmt.Errorf("%w: valid from %s", ErrNotYetValid, r.notBefore.UTC().Format(time.RFC3339))
	}
	if exp.Issuer != "" && r.issuer != exp.Issuer {
		return fmt.Errorf("%w: got %q, want %q", ErrIssuerMismatch, r.issuer, exp.Issuer)
	}
	if exp.RequireAudience && exp.Audience != "" && r.audience != exp.Audience {
		return fmt.Errorf("%w: got %q, want %q", ErrAudienceMismatch, r.audience, exp.Audience)
	}
	return nil
}

func decodeClaims[T Claims](raw *rawToken) (*T, error) {
	var out T
	if err := json.Unmarshal(raw.payload, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClaimsShape, err)
	}
	cs := any(&out).(claimSet)
	reg := cs.registered()
	for _, name := range cs.requiredClaims() {
		if !reg.present(name) {
			return nil, fmt.Errorf("%w: missing required claim %q", ErrClaimsShape, name)
		}
	}

	known := cs.knownClaims()
	extra := make(ClaimsMap, len(raw.claims))
	for k, v := range raw.claims {
		if !contains(known, k) {
			extra[k] = v
		}
	}
	cs.setExtra(extra)
	return &out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
