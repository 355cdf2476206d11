package keys

import "context"

// StaticSource serves a fixed key set, typically an inline JWKS document from
// configuration.
type StaticSource struct {
	keys []Material
}

func NewStaticSource(ms ...Material) *StaticSource {
	return &StaticSource{keys: append([]Material(nil), ms...)}
}

// NewStaticJWKSSource parses doc once and serves the result.
func NewStaticJWKSSource(doc []byte) (*StaticSource, error) {
	ms, err := ParseJWKS(doc)
	if err != nil {
		return nil, err
	}
	return &StaticSource{keys: ms}, nil
}

func (s *StaticSource) Fetch(ctx context.Context) ([]Material, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]Material(nil), s.keys...), nil
}
