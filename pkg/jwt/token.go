package jwt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// ClaimsMap is a decoded JSON object.
type ClaimsMap map[string]any

// Header is the decoded JOSE header. It selects the key and algorithm and is
// never used as a source of claims.
type Header struct {
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid,omitempty"`
	Type      string `json:"typ,omitempty"`
}

// rawToken is a structurally valid compact JWS.
type rawToken struct {
	header        Header
	payload       []byte
	claims        ClaimsMap
	signature     []byte
	signingString string
}

var (
	segmentParser = gojwt.NewParser()
	errNotObject  = errors.New("not a JSON object")
)

// parseToken checks structure only: three base64url segments, a JSON header
// and a JSON object payload.
func parseToken(token string) (*rawToken, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedToken, len(parts))
	}

	headerJSON, err := segmentParser.DecodeSegment(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedToken, err)
	}
	var h Header
	if _, err := decodeObject(headerJSON); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedToken, err)
	}
	if err := json.Unmarshal(headerJSON, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedToken, err)
	}

	payload, err := segmentParser.DecodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: claims: %v", ErrMalformedToken, err)
	}
	claims, err := decodeObject(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: claims: %v", ErrMalformedToken, err)
	}

	sig, err := segmentParser.DecodeSegment(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrMalformedToken, err)
	}

	return &rawToken{
		header:        h,
		payload:       payload,
		claims:        claims,
		signature:     sig,
		signingString: parts[0] + "." + parts[1],
	}, nil
}

func decodeObject(b []byte) (ClaimsMap, error) {
	if !bytes.HasPrefix(bytes.TrimSpace(b), []byte("{")) {
		return nil, errNotObject
	}
	var m ClaimsMap
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ExtractClaims decodes the payload of token without verifying anything.
// The result must not be used for authorization.
func ExtractClaims(token string) (ClaimsMap, error) {
	raw, err := parseToken(token)
	if err != nil {
		return nil, err
	}
	return raw.claims, nil
}

// DecodeHeader returns the unverified header of token.
func DecodeHeader(token string) (Header, error) {
	raw, err := parseToken(token)
	if err != nil {
		return Header{}, err
	}
	return raw.header, nil
}
