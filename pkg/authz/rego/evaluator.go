// Package rego evaluates authorization inputs with Open Policy Agent.
package rego

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	oparego "github.com/open-policy-agent/opa/v1/rego"

	"github.com/osvaldoandrade/tokengate/pkg/authz"
)

// DefaultQuery is evaluated when no query is configured.
const DefaultQuery = "data.tokengate.allow"

// Evaluator runs one prepared query. The query may produce a boolean, or an
// object with an "allow" boolean and optional "reasons" strings.
type Evaluator struct {
	query   oparego.PreparedEvalQuery
	text    string
	modules []string
}

var _ authz.Evaluator = (*Evaluator)(nil)

// New compiles modules (name to Rego source) and prepares query.
func New(ctx context.Context, query string, modules map[string]string) (*Evaluator, error) {
	if query == "" {
		query = DefaultQuery
	}
	if len(modules) == 0 {
		return nil, errors.New("rego: at least one policy module is required")
	}
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := []func(*oparego.Rego){oparego.Query(query)}
	for _, name := range names {
		opts = append(opts, oparego.Module(name, modules[name]))
	}
	prepared, err := oparego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("rego: prepare %q: %w", query, err)
	}
	return &Evaluator{query: prepared, text: query, modules: names}, nil
}

// NewFromFiles reads the given .rego files and compiles them.
func NewFromFiles(ctx context.Context, query string, paths []string) (*Evaluator, error) {
	modules := make(map[string]string, len(paths))
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("rego: read policy %s: %w", p, err)
		}
		modules[filepath.Base(p)] = string(content)
	}
	return New(ctx, query, modules)
}

func (e *Evaluator) Query() string     { return e.text }
func (e *Evaluator) Modules() []string { return append([]string(nil), e.modules...) }

func (e *Evaluator) Evaluate(ctx context.Context, in authz.Input) (authz.EvalResult, error) {
	rs, err := e.query.Eval(ctx, oparego.EvalInput(map[string]any(in)))
	if err != nil {
		return authz.EvalResult{}, fmt.Errorf("rego: eval: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return authz.EvalResult{Allowed: false, Reasons: []string{"undefined"}}, nil
	}
	return toResult(rs[0].Expressions[0].Value)
}

func toResult(v any) (authz.EvalResult, error) {
	switch val := v.(type) {
	case bool:
		return authz.EvalResult{Allowed: val}, nil
	case map[string]any:
		allowed, ok := val["allow"].(bool)
		if !ok {
			return authz.EvalResult{}, fmt.Errorf("rego: decision object without boolean \"allow\"")
		}
		res := authz.EvalResult{Allowed: allowed}
		switch reasons := val["reasons"].(type) {
		case []any:
			for _, r := range reasons {
				if s, ok := r.(string); ok {
					res.Reasons = append(res.Reasons, s)
				}
			}
		case string:
			res.Reasons = []string{reasons}
		}
		return res, nil
	default:
		return authz.EvalResult{}, fmt.Errorf("rego: unexpected result type %T", v)
	}
}
