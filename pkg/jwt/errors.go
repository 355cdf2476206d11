package jwt

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedToken       = errors.New("malformed token")
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrKeyResolution        = errors.New("key resolution failed")
	ErrSignatureInvalid     = errors.New("signature invalid")
	ErrExpired              = errors.New("token expired")
	ErrNotYetValid          = errors.New("token not yet valid")
	ErrIssuerMismatch       = errors.New("issuer mismatch")
	ErrAudienceMismatch     = errors.New("audience mismatch")
	ErrSubjectMismatch      = errors.New("subject mismatch")
	ErrClaimsShape          = errors.New("invalid claims")

	ErrInvalidConfig = errors.New("invalid jwt configuration")
)

// TokenKind names one of the tokens in a request.
type TokenKind string

const (
	AccessToken   TokenKind = "access_token"
	IDToken       TokenKind = "id_token"
	UserinfoToken TokenKind = "userinfo_token"
)

// TokenError attributes a failure to the token that caused it.
type TokenError struct {
	Token TokenKind
	Err   error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("%s: %v", e.Token, e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }

func tokenError(kind TokenKind, err error) error {
	return &TokenError{Token: kind, Err: err}
}

var reasons = []struct {
	err   error
	label string
}{
	{ErrMalformedToken, "malformed"},
	{ErrUnsupportedAlgorithm, "unsupported_algorithm"},
	{ErrKeyResolution, "key_resolution"},
	{ErrSignatureInvalid, "signature_invalid"},
	{ErrExpired, "expired"},
	{ErrNotYetValid, "not_yet_valid"},
	{ErrIssuerMismatch, "issuer_mismatch"},
	{ErrAudienceMismatch, "audience_mismatch"},
	{ErrSubjectMismatch, "subject_mismatch"},
	{ErrClaimsShape, "claims_shape"},
	{ErrInvalidConfig, "invalid_config"},
}

// Reason returns a stable label for err: "ok" for nil, one of the sentinel
// labels, or "internal" for anything else.
func Reason(err error) string {
	if err == nil {
		return "ok"
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "internal"
}

// FailedToken returns the token kind a TokenError in err's chain names.
func FailedToken(err error) (TokenKind, bool) {
	var te *TokenError
	if errors.As(err, &te) {
		return te.Token, true
	}
	return "", false
}
