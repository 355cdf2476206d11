package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/osvaldoandrade/tokengate/pkg/jwt"
	"github.com/osvaldoandrade/tokengate/pkg/jwt/keys"
)

var secret = []byte("authz-test-secret-authz-test-secret")

func sign(t *testing.T, claims gojwt.MapClaims) string {
	t.Helper()
	s, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func newService(t *testing.T) *jwt.Service {
	t.Helper()
	store := keys.NewStore(keys.WithStaticKeys(keys.SymmetricKey("HS256", "", secret)))
	svc, err := jwt.NewService(jwt.Config{Mode: jwt.Enabled, SignatureAlgorithms: []string{"HS256"}}, store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func validRequest(t *testing.T, idAud string) Request {
	exp := time.Now().Add(time.Hour).Unix()
	iat := time.Now().Unix()
	return Request{
		AccessToken: sign(t, gojwt.MapClaims{"iss": "https://idp.example", "aud": "client-1", "exp": exp, "iat": iat, "scope": "read"}),
		IDToken:     sign(t, gojwt.MapClaims{"iss": "https://idp.example", "aud": idAud, "sub": "user-1", "exp": exp, "iat": iat}),
		Action:      "read",
		Resource:    Resource{ID: "doc-1", Type: "Document", Payload: map[string]any{"owner": "user-1"}},
		Context:     map[string]any{"ip": "10.0.0.1"},
	}
}

type evaluatorFunc func(ctx context.Context, in Input) (EvalResult, error)

func (f evaluatorFunc) Evaluate(ctx context.Context, in Input) (EvalResult, error) { return f(ctx, in) }

func TestAuthorizeAllow(t *testing.T) {
	var got Input
	ev := evaluatorFunc(func(_ context.Context, in Input) (EvalResult, error) {
		got = in
		return EvalResult{Allowed: true}, nil
	})
	var outcomes []string
	a, err := New(newService(t), ev,
		WithIDGenerator(func() string { return "decision-1" }),
		WithDecisionObserver(func(o string) { outcomes = append(outcomes, o) }),
	)
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}

	d, err := a.Authorize(context.Background(), validRequest(t, "client-1"))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !d.Allowed || d.ID != "decision-1" {
		t.Fatalf("unexpected decision %+v", d)
	}
	if len(outcomes) != 1 || outcomes[0] != "allow" {
		t.Fatalf("unexpected outcomes %v", outcomes)
	}

	principal := got["principal"].(map[string]any)
	idTok := principal["id_token"].(map[string]any)
	if idTok["sub"] != "user-1" {
		t.Fatalf("expected id token claims in input, got %v", idTok)
	}
	access := principal["access_token"].(map[string]any)
	if access["scope"] != "read" {
		t.Fatalf("expected extra access claims in input, got %v", access)
	}
	if _, ok := principal["userinfo_token"]; ok {
		t.Fatalf("userinfo_token should be absent")
	}
	if got["action"] != "read" {
		t.Fatalf("unexpected action %v", got["action"])
	}
	if got["resource"].(map[string]any)["type"] != "Document" {
		t.Fatalf("unexpected resource %v", got["resource"])
	}
	if got["context"].(map[string]any)["ip"] != "10.0.0.1" {
		t.Fatalf("unexpected context %v", got["context"])
	}
}

func TestAuthorizeDeny(t *testing.T) {
	ev := evaluatorFunc(func(context.Context, Input) (EvalResult, error) {
		return EvalResult{Allowed: false, Reasons: []string{"nope"}}, nil
	})
	a, _ := New(newService(t), ev)
	d, err := a.Authorize(context.Background(), validRequest(t, "client-1"))
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if d.Allowed || len(d.Reasons) != 1 {
		t.Fatalf("unexpected decision %+v", d)
	}
	if d.ID == "" {
		t.Fatalf("expected a decision id")
	}
}

func TestAuthorizeTokenFailureIsError(t *testing.T) {
	called := false
	ev := evaluatorFunc(func(context.Context, Input) (EvalResult, error) {
		called = true
		return EvalResult{Allowed: true}, nil
	})
	var outcome string
	a, _ := New(newService(t), ev, WithDecisionObserver(func(o string) { outcome = o }))

	_, err := a.Authorize(context.Background(), validRequest(t, "client-2"))
	if !errors.Is(err, jwt.ErrAudienceMismatch) {
		t.Fatalf("expected ErrAudienceMismatch, got %v", err)
	}
	if called {
		t.Fatalf("evaluator must not run after a token failure")
	}
	if outcome != "error" {
		t.Fatalf("expected error outcome, got %q", outcome)
	}
}

func TestAuthorizeInvalidRequest(t *testing.T) {
	ev := evaluatorFunc(func(context.Context, Input) (EvalResult, error) { return EvalResult{}, nil })
	a, _ := New(newService(t), ev)

	req := validRequest(t, "client-1")
	req.Action = " "
	if _, err := a.Authorize(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := a.Authorize(context.Background(), Request{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestAuthorizeEvaluatorFailure(t *testing.T) {
	boom := errors.New("engine down")
	ev := evaluatorFunc(func(context.Context, Input) (EvalResult, error) { return EvalResult{}, boom })
	a, _ := New(newService(t), ev)

	_, err := a.Authorize(context.Background(), validRequest(t, "client-1"))
	if !errors.Is(err, ErrEvaluation) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped evaluation error, got %v", err)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	ev := evaluatorFunc(func(context.Context, Input) (EvalResult, error) { return EvalResult{}, nil })
	if _, err := New(nil, ev); err == nil {
		t.Fatalf("expected error without decoder")
	}
	if _, err := New(newService(t), nil); err == nil {
		t.Fatalf("expected error without evaluator")
	}
}
