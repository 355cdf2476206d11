package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"log/slog"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

var (
	rsaAlgorithms  = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512"}
	hmacAlgorithms = []string{"HS256", "HS384", "HS512"}
	curveAlgorithm = map[string]string{
		"P-256": "ES256",
		"P-384": "ES384",
		"P-521": "ES512",
	}
)

// ParseJWKS converts a JWK Set document into verification keys.
//
// A key without "alg" is registered once per algorithm of its family. Keys
// whose "use" is set to anything other than "sig" are skipped, as are keys
// that cannot verify a JWS. Only a document jwk cannot parse is an error.
func ParseJWKS(doc []byte) ([]Material, error) {
	set, err := jwk.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("parse jwks: %w", err)
	}
	var out []Material
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		if use := key.KeyUsage(); use != "" && use != "sig" {
			continue
		}
		ms, err := materialsFromKey(key)
		if err != nil {
			slog.Default().Debug("skipping jwks key", "index", i, "kid", key.KeyID(), "kty", key.KeyType(), "err", err)
			continue
		}
		out = append(out, ms...)
	}
	return out, nil
}

func materialsFromKey(key jwk.Key) ([]Material, error) {
	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("extract raw key: %w", err)
	}
	pub, typ, err := verificationKey(raw)
	if err != nil {
		return nil, err
	}

	algs := []string{}
	if a := key.Algorithm(); a != nil && a.String() != "" {
		algs = append(algs, a.String())
	} else {
		algs = familyAlgorithms(key.KeyType(), pub)
	}
	if len(algs) == 0 {
		return nil, nil
	}

	kid := key.KeyID()
	out := make([]Material, 0, len(algs))
	for _, alg := range algs {
		out = append(out, Material{Algorithm: alg, KeyID: kid, Type: typ, Key: pub})
	}
	return out, nil
}

// verificationKey reduces private keys to their public half.
func verificationKey(raw any) (any, KeyType, error) {
	switch k := raw.(type) {
	case []byte:
		return k, Symmetric, nil
	case *rsa.PublicKey:
		return k, Asymmetric, nil
	case *rsa.PrivateKey:
		return &k.PublicKey, Asymmetric, nil
	case *ecdsa.PublicKey:
		return k, Asymmetric, nil
	case *ecdsa.PrivateKey:
		return &k.PublicKey, Asymmetric, nil
	case ed25519.PublicKey:
		return k, Asymmetric, nil
	case ed25519.PrivateKey:
		return k.Public().(ed25519.PublicKey), Asymmetric, nil
	default:
		return nil, 0, fmt.Errorf("unsupported key type %T", raw)
	}
}

func familyAlgorithms(kty jwa.KeyType, pub any) []string {
	switch kty {
	case jwa.RSA:
		return rsaAlgorithms
	case jwa.OctetSeq:
		return hmacAlgorithms
	case jwa.EC:
		if k, ok := pub.(*ecdsa.PublicKey); ok {
			if alg, ok := curveAlgorithm[k.Curve.Params().Name]; ok {
				return []string{alg}
			}
		}
	case jwa.OKP:
		if _, ok := pub.(ed25519.PublicKey); ok {
			return []string{"EdDSA"}
		}
	}
	return nil
}
