package jwt

import (
	"encoding/json"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// NumericDate is a JWT timestamp: seconds since the epoch as a JSON number.
type NumericDate = gojwt.NumericDate

// Claims is the set of typed claim models a token can be decoded into.
type Claims interface {
	AccessTokenClaims | IDTokenClaims | UserinfoTokenClaims
}

// AccessTokenClaims is the validated content of an access token. aud is the
// client id the token was issued to.
type AccessTokenClaims struct {
	Issuer    string       `json:"iss"`
	Audience  string       `json:"aud"`
	ExpiresAt *NumericDate `json:"exp"`
	IssuedAt  *NumericDate `json:"iat"`
	NotBefore *NumericDate `json:"nbf,omitempty"`

	// Extra holds every claim not modeled above.
	Extra ClaimsMap `json:"-"`
}

type IDTokenClaims struct {
	Issuer    string       `json:"iss"`
	Audience  string       `json:"aud"`
	Subject   string       `json:"sub"`
	ExpiresAt *NumericDate `json:"exp"`
	IssuedAt  *NumericDate `json:"iat"`
	NotBefore *NumericDate `json:"nbf,omitempty"`

	Extra ClaimsMap `json:"-"`
}

// UserinfoTokenClaims carries the user-info response as a signed token. Only
// sub is mandatory.
type UserinfoTokenClaims struct {
	Subject   string       `json:"sub"`
	ClientID  string       `json:"client_id,omitempty"`
	Issuer    string       `json:"iss,omitempty"`
	Audience  string       `json:"aud,omitempty"`
	ExpiresAt *NumericDate `json:"exp,omitempty"`
	IssuedAt  *NumericDate `json:"iat,omitempty"`
	NotBefore *NumericDate `json:"nbf,omitempty"`

	Extra ClaimsMap `json:"-"`
}

// registeredClaims is the common view used by validation.
type registeredClaims struct {
	issuer    string
	audience  string
	subject   string
	expiresAt *NumericDate
	issuedAt  *NumericDate
	notBefore *NumericDate
}

// present reports whether claim name has a usable value.
func (r registeredClaims) present(name string) bool {
	switch name {
	case "iss":
		return r.issuer != ""
	case "aud":
		return r.audience != ""
	case "sub":
		return r.subject != ""
	case "exp":
		return r.expiresAt != nil
	case "iat":
		return r.issuedAt != nil
	case "nbf":
		return r.notBefore != nil
	}
	return false
}

// claimSet is implemented by pointers to every Claims type.
type claimSet interface {
	registered() registeredClaims
	requiredClaims() []string
	knownClaims() []string
	setExtra(ClaimsMap)
}

func (c *AccessTokenClaims) registered() registeredClaims {
	return registeredClaims{
		issuer:    c.Issuer,
		audience:  c.Audience,
		expiresAt: c.ExpiresAt,
		issuedAt:  c.IssuedAt,
		notBefore: c.NotBefore,
	}
}

func (c *AccessTokenClaims) requiredClaims() []string { return []string{"iss", "aud", "exp", "iat"} }
func (c *AccessTokenClaims) knownClaims() []string {
	return []string{"iss", "aud", "exp", "iat", "nbf"}
}
func (c *AccessTokenClaims) setExtra(m ClaimsMap) { c.Extra = m }

func (c *IDTokenClaims) registered() registeredClaims {
	return registeredClaims{
		issuer:    c.Issuer,
		audience:  c.Audience,
		subject:   c.Subject,
		expiresAt: c.ExpiresAt,
		issuedAt:  c.IssuedAt,
		notBefore: c.NotBefore,
	}
}

func (c *IDTokenClaims) requiredClaims() []string {
	return []string{"iss", "aud", "sub", "exp", "iat"}
}
func (c *IDTokenClaims) knownClaims() []string {
	return []string{"iss", "aud", "sub", "exp", "iat", "nbf"}
}
func (c *IDTokenClaims) setExtra(m ClaimsMap) { c.Extra = m }

func (c *UserinfoTokenClaims) registered() registeredClaims {
	return registeredClaims{
		issuer:    c.Issuer,
		audience:  c.Audience,
		subject:   c.Subject,
		expiresAt: c.ExpiresAt,
		issuedAt:  c.IssuedAt,
		notBefore: c.NotBefore,
	}
}

func (c *UserinfoTokenClaims) requiredClaims() []string { return []string{"sub"} }
func (c *UserinfoTokenClaims) knownClaims() []string {
	return []string{"sub", "client_id", "iss", "aud", "exp", "iat", "nbf"}
}
func (c *UserinfoTokenClaims) setExtra(m ClaimsMap) { c.Extra = m }

// Map flattens the claims back into a JSON-like map with unix timestamps.
// Extra claims are included; modeled claims take precedence.
func (c AccessTokenClaims) Map() ClaimsMap {
	m := copyExtra(c.Extra)
	m["iss"] = c.Issuer
	m["aud"] = c.Audience
	putDate(m, "exp", c.ExpiresAt)
	putDate(m, "iat", c.IssuedAt)
	putDate(m, "nbf", c.NotBefore)
	return m
}

func (c AccessTokenClaims) MarshalJSON() ([]byte, error) { return json.Marshal(c.Map()) }

func (c IDTokenClaims) Map() ClaimsMap {
	m := copyExtra(c.Extra)
	m["iss"] = c.Issuer
	m["aud"] = c.Audience
	m["sub"] = c.Subject
	putDate(m, "exp", c.ExpiresAt)
	putDate(m, "iat", c.IssuedAt)
	putDate(m, "nbf", c.NotBefore)
	return m
}

func (c IDTokenClaims) MarshalJSON() ([]byte, error) { return json.Marshal(c.Map()) }

func (c UserinfoTokenClaims) Map() ClaimsMap {
	m := copyExtra(c.Extra)
	m["sub"] = c.Subject
	putString(m, "client_id", c.ClientID)
	putString(m, "iss", c.Issuer)
	putString(m, "aud", c.Audience)
	putDate(m, "exp", c.ExpiresAt)
	putDate(m, "iat", c.IssuedAt)
	putDate(m, "nbf", c.NotBefore)
	return m
}

func (c UserinfoTokenClaims) MarshalJSON() ([]byte, error) { return json.Marshal(c.Map()) }

func copyExtra(extra ClaimsMap) ClaimsMap {
	m := make(ClaimsMap, len(extra)+6)
	for k, v := range extra {
		m[k] = v
	}
	return m
}

func putDate(m ClaimsMap, name string, d *NumericDate) {
	if d != nil {
		m[name] = d.Unix()
	}
}

func putString(m ClaimsMap, name, v string) {
	if v != "" {
		m[name] = v
	}
}
