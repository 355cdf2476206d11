package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/osvaldoandrade/tokengate/pkg/jwt"
	"github.com/osvaldoandrade/tokengate/pkg/jwt/keys"
)

// keyFlags are the key source flags shared by decode and keys.
type keyFlags struct {
	jwksURL      string
	jwksFile     string
	hsSecret     string
	secretPrompt bool
}

func (k *keyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&k.jwksURL, "jwks-url", "", "Fetch verification keys from this JWKS endpoint")
	cmd.Flags().StringVar(&k.jwksFile, "jwks-file", "", "Read verification keys from a JWKS file")
	cmd.Flags().StringVar(&k.hsSecret, "hs256-secret", os.Getenv("TOKENGATE_HS256_SECRET"), "HS256 shared secret")
	cmd.Flags().BoolVar(&k.secretPrompt, "hs256-secret-prompt", false, "Prompt for the HS256 secret")
}

// store loads every configured key source into a key store. The bool is false
// when no source was given.
func (k *keyFlags) store(ctx context.Context) (*keys.Store, bool, error) {
	if k.secretPrompt {
		secret, err := promptSecret("HS256 secret")
		if err != nil {
			return nil, false, err
		}
		k.hsSecret = secret
	}

	var static []keys.Material
	if k.hsSecret != "" {
		static = append(static, keys.SymmetricKey("HS256", "", []byte(k.hsSecret)))
	}
	if k.jwksFile != "" {
		doc, err := os.ReadFile(k.jwksFile)
		if err != nil {
			return nil, false, err
		}
		src, err := keys.NewStaticJWKSSource(doc)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", k.jwksFile, err)
		}
		ms, err := src.Fetch(ctx)
		if err != nil {
			return nil, false, err
		}
		static = append(static, ms...)
	}

	opts := []keys.Option{keys.WithStaticKeys(static...)}
	if k.jwksURL != "" {
		opts = append(opts, keys.WithSource(keys.NewHTTPSource(k.jwksURL, &http.Client{Timeout: 10 * time.Second}, nil)))
	}
	store := keys.NewStore(opts...)
	if k.jwksURL != "" {
		if err := store.Refresh(ctx); err != nil {
			return nil, false, err
		}
	}
	return store, len(static) > 0 || k.jwksURL != "", nil
}

type keyRow struct {
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid,omitempty"`
	Type      string `json:"type"`
	Family    string `json:"family"`
}

func describeKeys(ms []keys.Material) []keyRow {
	rows := make([]keyRow, 0, len(ms))
	for _, m := range ms {
		rows = append(rows, keyRow{
			Algorithm: m.Algorithm,
			KeyID:     m.KeyID,
			Type:      m.Type.String(),
			Family:    family(m.Algorithm),
		})
	}
	return rows
}

func family(alg string) string {
	if _, err := jwt.ParseAlgorithm(alg); err != nil {
		return "unknown"
	}
	switch {
	case alg == "EdDSA":
		return "okp"
	case strings.HasPrefix(alg, "HS"):
		return "hmac"
	case strings.HasPrefix(alg, "ES"):
		return "ec"
	default:
		return "rsa"
	}
}
