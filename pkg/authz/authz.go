// Package authz turns an authorization request into a decision: the request's
// tokens are decoded and cross-checked, their claims become the principal of
// the policy input, and an Evaluator renders the verdict.
package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/osvaldoandrade/tokengate/pkg/jwt"
)

var (
	ErrInvalidRequest = errors.New("invalid authorization request")
	ErrEvaluation     = errors.New("policy evaluation failed")
)

type Resource struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

type Request struct {
	AccessToken   string         `json:"access_token"`
	IDToken       string         `json:"id_token"`
	UserinfoToken string         `json:"userinfo_token,omitempty"`
	Action        string         `json:"action"`
	Resource      Resource       `json:"resource"`
	Context       map[string]any `json:"context,omitempty"`
}

// Input is the document handed to the policy evaluator:
//
//	principal: {access_token, id_token, userinfo_token}
//	action:    string
//	resource:  {id, type, payload}
//	context:   object
type Input map[string]any

type EvalResult struct {
	Allowed bool
	Reasons []string
}

// Evaluator renders a verdict for an input. Implementations must be safe for
// concurrent use.
type Evaluator interface {
	Evaluate(ctx context.Context, in Input) (EvalResult, error)
}

// TokenDecoder is satisfied by *jwt.Service.
type TokenDecoder interface {
	DecodeTokenSet(ctx context.Context, set jwt.TokenSet) (*jwt.DecodedTokens, error)
}

type Decision struct {
	ID      string             `json:"decision_id"`
	Allowed bool               `json:"allowed"`
	Reasons []string           `json:"reasons,omitempty"`
	Tokens  *jwt.DecodedTokens `json:"tokens,omitempty"`
}

// DecisionObserver is told the outcome of every request: "allow", "deny" or
// "error".
type DecisionObserver func(outcome string)

type Authorizer struct {
	tokens    TokenDecoder
	evaluator Evaluator
	logger    *slog.Logger
	observe   DecisionObserver
	newID     func() string
	tracer    trace.Tracer
}

type Option func(*Authorizer)

func WithLogger(l *slog.Logger) Option {
	return func(a *Authorizer) { a.logger = l }
}

func WithDecisionObserver(fn DecisionObserver) Option {
	return func(a *Authorizer) { a.observe = fn }
}

// WithIDGenerator replaces the uuid decision ids.
func WithIDGenerator(fn func() string) Option {
	return func(a *Authorizer) { a.newID = fn }
}

func New(tokens TokenDecoder, evaluator Evaluator, opts ...Option) (*Authorizer, error) {
	if tokens == nil {
		return nil, errors.New("authz: token decoder is required")
	}
	if evaluator == nil {
		return nil, errors.New("authz: evaluator is required")
	}
	a := &Authorizer{
		tokens:    tokens,
		evaluator: evaluator,
		newID:     func() string { return uuid.NewString() },
		tracer:    otel.Tracer("tokengate/authz"),
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a, nil
}

// Authorize validates the request tokens and evaluates the policy. A token
// failure is returned as an error wrapping *jwt.TokenError; it never becomes
// a deny decision.
func (a *Authorizer) Authorize(ctx context.Context, req Request) (*Decision, error) {
	ctx, span := a.tracer.Start(ctx, "tokengate.authz.authorize",
		trace.WithAttributes(
			attribute.String("authz.action", req.Action),
			attribute.String("authz.resource_type", req.Resource.Type),
		),
	)
	defer span.End()

	d, err := a.authorize(ctx, req)
	if err != nil {
		a.record("error")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	outcome := "deny"
	if d.Allowed {
		outcome = "allow"
	}
	a.record(outcome)
	span.SetAttributes(attribute.String("authz.decision", outcome), attribute.String("authz.decision_id", d.ID))
	a.logger.InfoContext(ctx, "authorization decision",
		"decision_id", d.ID,
		"allowed", d.Allowed,
		"action", req.Action,
		"resource_type", req.Resource.Type,
		"resource_id", req.Resource.ID,
	)
	return d, nil
}

func (a *Authorizer) authorize(ctx context.Context, req Request) (*Decision, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	tokens, err := a.tokens.DecodeTokenSet(ctx, jwt.TokenSet{
		Access:   req.AccessToken,
		ID:       req.IDToken,
		Userinfo: req.UserinfoToken,
	})
	if err != nil {
		a.logger.WarnContext(ctx, "token validation failed", "reason", jwt.Reason(err), "err", err)
		return nil, err
	}

	res, err := a.evaluator.Evaluate(ctx, BuildInput(req, tokens))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEvaluation, err)
	}
	return &Decision{
		ID:      a.newID(),
		Allowed: res.Allowed,
		Reasons: res.Reasons,
		Tokens:  tokens,
	}, nil
}

func validateRequest(req Request) error {
	var missing []string
	if strings.TrimSpace(req.AccessToken) == "" {
		missing = append(missing, "access_token")
	}
	if strings.TrimSpace(req.IDToken) == "" {
		missing = append(missing, "id_token")
	}
	if strings.TrimSpace(req.Action) == "" {
		missing = append(missing, "action")
	}
	if strings.TrimSpace(req.Resource.Type) == "" {
		missing = append(missing, "resource.type")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// BuildInput merges validated claims with the request payload.
func BuildInput(req Request, tokens *jwt.DecodedTokens) Input {
	principal := map[string]any{}
	if tokens != nil {
		if tokens.Access != nil {
			principal[string(jwt.AccessToken)] = map[string]any(tokens.Access.Map())
		}
		if tokens.ID != nil {
			principal[string(jwt.IDToken)] = map[string]any(tokens.ID.Map())
		}
		if tokens.Userinfo != nil {
			principal[string(jwt.UserinfoToken)] = map[string]any(tokens.Userinfo.Map())
		}
	}
	resource := map[string]any{
		"id":   req.Resource.ID,
		"type": req.Resource.Type,
	}
	if req.Resource.Payload != nil {
		resource["payload"] = req.Resource.Payload
	}
	ctxDoc := req.Context
	if ctxDoc == nil {
		ctxDoc = map[string]any{}
	}
	return Input{
		"principal": principal,
		"action":    req.Action,
		"resource":  resource,
		"context":   ctxDoc,
	}
}

func (a *Authorizer) record(outcome string) {
	if a.observe != nil {
		a.observe(outcome)
	}
}
