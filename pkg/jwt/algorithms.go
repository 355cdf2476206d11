package jwt

import (
	"fmt"
	"sort"
	"strings"
)

var supportedAlgorithms = map[string]struct{}{
	"HS256": {}, "HS384": {}, "HS512": {},
	"RS256": {}, "RS384": {}, "RS512": {},
	"PS256": {}, "PS384": {}, "PS512": {},
	"ES256": {}, "ES384": {}, "ES512": {},
	"EdDSA": {},
}

// Legacy names found in existing configurations.
var algorithmAliases = map[string]string{
	"EC256": "ES256",
	"EC384": "ES384",
	"EC512": "ES512",
}

// ParseAlgorithm maps a configured algorithm name to its JWS "alg" value.
func ParseAlgorithm(name string) (string, error) {
	name = strings.TrimSpace(name)
	if alias, ok := algorithmAliases[strings.ToUpper(name)]; ok {
		return alias, nil
	}
	if strings.EqualFold(name, "EdDSA") {
		return "EdDSA", nil
	}
	upper := strings.ToUpper(name)
	if _, ok := supportedAlgorithms[upper]; ok {
		return upper, nil
	}
	return "", fmt.Errorf("%w: unknown signature algorithm %q", ErrInvalidConfig, name)
}

// ParseAlgorithms resolves every name and removes duplicates, keeping order.
func ParseAlgorithms(names []string) ([]string, error) {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		alg, err := ParseAlgorithm(n)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[alg]; dup {
			continue
		}
		seen[alg] = struct{}{}
		out = append(out, alg)
	}
	return out, nil
}

// SupportedAlgorithms lists every accepted "alg" value in sorted order.
func SupportedAlgorithms() []string {
	out := make([]string, 0, len(supportedAlgorithms))
	for alg := range supportedAlgorithms {
		out = append(out, alg)
	}
	sort.Strings(out)
	return out
}
