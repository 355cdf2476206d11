package jwt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/osvaldoandrade/tokengate/pkg/jwt/keys"
)

// Mode switches signature validation on or off.
type Mode int

const (
	Disabled Mode = iota
	Enabled
)

func (m Mode) String() string {
	if m == Enabled {
		return "enabled"
	}
	return "disabled"
}

// ParseMode accepts "enabled" or "disabled" (case-insensitive). Empty means
// disabled.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "disabled":
		return Disabled, nil
	case "enabled":
		return Enabled, nil
	default:
		return Disabled, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, s)
	}
}

// Config is the boot-time token validation configuration.
type Config struct {
	Mode                Mode
	SignatureAlgorithms []string
	Leeway              time.Duration
}

// DecodeObserver is told about every token decoded by a Service.
type DecodeObserver func(kind TokenKind, outcome string, d time.Duration)

// Service decodes and cross-checks the tokens of one request. It is
// immutable and safe for concurrent use.
type Service struct {
	strategy Strategy
	logger   *slog.Logger
	observe  DecodeObserver
	tracer   trace.Tracer
}

type ServiceOption func(*Service)

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

func WithDecodeObserver(fn DecodeObserver) ServiceOption {
	return func(s *Service) { s.observe = fn }
}

// NewService builds the strategy cfg asks for. provider may be nil when
// validation is disabled.
func NewService(cfg Config, provider keys.Provider, opts ...ServiceOption) (*Service, error) {
	var st Strategy = Unvalidated{}
	if cfg.Mode == Enabled {
		v, err := NewValidated(cfg.SignatureAlgorithms, provider, WithLeeway(cfg.Leeway))
		if err != nil {
			return nil, err
		}
		st = v
	} else if _, err := ParseAlgorithms(cfg.SignatureAlgorithms); err != nil {
		return nil, err
	}
	return NewServiceWithStrategy(st, opts...), nil
}

// NewServiceWithStrategy wraps an existing strategy.
func NewServiceWithStrategy(st Strategy, opts ...ServiceOption) *Service {
	s := &Service{
		strategy: st,
		tracer:   otel.Tracer("tokengate/jwt"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Validating reports whether signatures and claims are verified.
func (s *Service) Validating() bool {
	_, ok := s.strategy.(*Validated)
	return ok
}

// TokenSet is the raw tokens of one request. An empty Userinfo means none was
// supplied.
type TokenSet struct {
	Access   string
	ID       string
	Userinfo string
}

// DecodedTokens holds validated claims. Userinfo is nil when not supplied.
type DecodedTokens struct {
	Access   *AccessTokenClaims   `json:"access_token"`
	ID       *IDTokenClaims       `json:"id_token"`
	Userinfo *UserinfoTokenClaims `json:"userinfo_token,omitempty"`
}

// DecodeTokens validates the access token, then the id token against the
// access token's issuer and audience.
//
// The access token's own issuer is not checked against any trusted issuer.
func (s *Service) DecodeTokens(ctx context.Context, access, id string) (*AccessTokenClaims, *IDTokenClaims, error) {
	out, err := s.DecodeTokenSet(ctx, TokenSet{Access: access, ID: id})
	if err != nil {
		return nil, nil, err
	}
	return out.Access, out.ID, nil
}

// DecodeTokenSet is DecodeTokens plus the user-info token. When validating,
// the user-info token must name the id token's subject and, when it carries
// them, the access token's client id and issuer.
func (s *Service) DecodeTokenSet(ctx context.Context, set TokenSet) (*DecodedTokens, error) {
	ctx, span := s.tracer.Start(ctx, "tokengate.jwt.decode_tokens",
		trace.WithAttributes(
			attribute.Bool("jwt.validating", s.Validating()),
			attribute.Bool("jwt.userinfo", set.Userinfo != ""),
		),
	)
	defer span.End()

	out, err := s.decodeTokenSet(ctx, set)
	if err != nil {
		span.SetAttributes(attribute.String("jwt.failure", Reason(err)))
		if kind, ok := FailedToken(err); ok {
			span.SetAttributes(attribute.String("jwt.failed_token", string(kind)))
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

func (s *Service) decodeTokenSet(ctx context.Context, set TokenSet) (*DecodedTokens, error) {
	s.logUnvalidated(ctx, AccessToken, set.Access)
	s.logUnvalidated(ctx, IDToken, set.ID)
	if set.Userinfo != "" {
		s.logUnvalidated(ctx, UserinfoToken, set.Userinfo)
	}

	access, err := decodeObserved[AccessTokenClaims](ctx, s, AccessToken, set.Access, Expectations{})
	if err != nil {
		return nil, err
	}

	id, err := decodeObserved[IDTokenClaims](ctx, s, IDToken, set.ID, Expectations{
		Issuer:          access.Issuer,
		Audience:        access.Audience,
		RequireAudience: true,
	})
	if err != nil {
		return nil, err
	}

	out := &DecodedTokens{Access: access, ID: id}
	if set.Userinfo == "" {
		return out, nil
	}

	ui, err := decodeObserved[UserinfoTokenClaims](ctx, s, UserinfoToken, set.Userinfo, Expectations{})
	if err != nil {
		return nil, err
	}
	if s.Validating() {
		if err := bindUserinfo(access, id, ui); err != nil {
			return nil, tokenError(UserinfoToken, err)
		}
	}
	out.Userinfo = ui
	return out, nil
}

func decodeObserved[T Claims](ctx context.Context, s *Service, kind TokenKind, token string, exp Expectations) (*T, error) {
	start := time.Now()
	out, err := Decode[T](ctx, s.strategy, token, exp)
	if s.observe != nil {
		s.observe(kind, Reason(err), time.Since(start))
	}
	if err != nil {
		s.logger.DebugContext(ctx, "token rejected", "token", string(kind), "reason", Reason(err), "err", err)
		return nil, tokenError(kind, err)
	}
	return out, nil
}

// bindUserinfo ties the user-info token to the same subject, client and
// issuer as the other two. iss and client_id are optional in user-info.
func bindUserinfo(access *AccessTokenClaims, id *IDTokenClaims, ui *UserinfoTokenClaims) error {
	if ui.Subject != id.Subject {
		return fmt.Errorf("%w: userinfo sub %q, id token sub %q", ErrSubjectMismatch, ui.Subject, id.Subject)
	}
	if ui.ClientID != "" && ui.ClientID != access.Audience {
		return fmt.Errorf("%w: userinfo client_id %q, access token audience %q", ErrAudienceMismatch, ui.ClientID, access.Audience)
	}
	if ui.Issuer != "" && ui.Issuer != access.Issuer {
		return fmt.Errorf("%w: userinfo issuer %q, access token issuer %q", ErrIssuerMismatch, ui.Issuer, access.Issuer)
	}
	return nil
}

// logUnvalidated emits the raw claims at debug level. They are untrusted.
func (s *Service) logUnvalidated(ctx context.Context, kind TokenKind, token string) {
	if !s.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	claims, err := ExtractClaims(token)
	if err != nil {
		s.logger.DebugContext(ctx, "unvalidated claims unavailable", "token", string(kind), "err", err)
		return
	}
	s.logger.DebugContext(ctx, "unvalidated claims", "token", string(kind), "claims", claims)
}
