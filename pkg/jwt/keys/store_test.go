package keys

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStoreResolveStaticKeys(t *testing.T) {
	store := NewStore(WithStaticKeys(
		SymmetricKey("HS256", "", []byte("secret")),
		SymmetricKey("HS384", "a", []byte("secret-a")),
		SymmetricKey("HS384", "b", []byte("secret-b")),
	))

	tests := []struct {
		name    string
		alg     string
		kid     string
		want    string
		wantErr bool
	}{
		{name: "exact without kid", alg: "HS256", want: "secret"},
		{name: "unknown kid falls back to kid-less key", alg: "HS256", kid: "rotated", want: "secret"},
		{name: "exact kid", alg: "HS384", kid: "b", want: "secret-b"},
		{name: "missing kid with several keys", alg: "HS384", wantErr: true},
		{name: "unknown kid without fallback", alg: "HS384", kid: "c", wantErr: true},
		{name: "unknown algorithm", alg: "RS256", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := store.Resolve(context.Background(), tt.alg, tt.kid)
			if tt.wantErr {
				if !errors.Is(err, ErrKeyNotFound) {
					t.Fatalf("expected ErrKeyNotFound, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if got := string(m.Key.([]byte)); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
			if m.Type != Symmetric {
				t.Fatalf("expected symmetric key, got %s", m.Type)
			}
		})
	}
}

func TestStoreUnknownKidFallbackIsSymmetricOnly(t *testing.T) {
	store := NewStore(WithStaticKeys(Material{Algorithm: "RS256", Type: Asymmetric, Key: "public"}))

	if _, err := store.Resolve(context.Background(), "RS256", "other"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound for unknown kid, got %v", err)
	}
	if _, err := store.Resolve(context.Background(), "RS256", ""); err != nil {
		t.Fatalf("expected the only RS256 key for a token without kid, got %v", err)
	}
}

func TestStoreSingleKeyWithoutKid(t *testing.T) {
	store := NewStore(WithStaticKeys(SymmetricKey("HS512", "only", []byte("k"))))
	if _, err := store.Resolve(context.Background(), "HS512", ""); err != nil {
		t.Fatalf("expected the only HS512 key, got %v", err)
	}
}

func TestStoreFetchOnMiss(t *testing.T) {
	var calls atomic.Int32
	src := SourceFunc(func(ctx context.Context) ([]Material, error) {
		calls.Add(1)
		return []Material{SymmetricKey("HS256", "remote", []byte("r"))}, nil
	})
	var outcomes []string
	store := NewStore(
		WithSource(src),
		WithFetchObserver(func(outcome string, _ time.Duration) { outcomes = append(outcomes, outcome) }),
	)

	if _, err := store.Resolve(context.Background(), "HS256", "remote"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := store.Resolve(context.Background(), "HS256", "remote"); err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 fetch, got %d", got)
	}
	if len(outcomes) != 1 || outcomes[0] != "ok" {
		t.Fatalf("unexpected observer outcomes: %v", outcomes)
	}
	if store.FetchedAt().IsZero() {
		t.Fatalf("expected fetch time to be recorded")
	}
}

func TestStoreStaticKeysWinOverFetched(t *testing.T) {
	src := NewStaticSource(SymmetricKey("HS256", "k", []byte("remote")))
	store := NewStore(WithSource(src), WithStaticKeys(SymmetricKey("HS256", "k", []byte("local"))))
	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	m, err := store.Resolve(context.Background(), "HS256", "k")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if string(m.Key.([]byte)) != "local" {
		t.Fatalf("expected static key to win, got %q", m.Key)
	}
	if n := len(store.Keys()); n != 1 {
		t.Fatalf("expected 1 key after merge, got %d", n)
	}
}

func TestStoreFetchErrorIsReturned(t *testing.T) {
	boom := errors.New("boom")
	var outcome string
	store := NewStore(
		WithSource(SourceFunc(func(context.Context) ([]Material, error) { return nil, boom })),
		WithFetchObserver(func(o string, _ time.Duration) { outcome = o }),
	)
	_, err := store.Resolve(context.Background(), "RS256", "x")
	if !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if outcome != "error" {
		t.Fatalf("expected error outcome, got %q", outcome)
	}
}

func TestStoreConcurrentMissesShareOneFetch(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	src := SourceFunc(func(ctx context.Context) ([]Material, error) {
		calls.Add(1)
		<-release
		return []Material{SymmetricKey("HS256", "k1", []byte("s"))}, nil
	})
	store := NewStore(WithSource(src))

	const callers = 32
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Resolve(context.Background(), "HS256", "k1")
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one shared fetch, got %d", got)
	}
}

func TestStoreCallerCancellationDoesNotAbortFetch(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	fetchCtxErr := make(chan error, 1)
	src := SourceFunc(func(ctx context.Context) ([]Material, error) {
		calls.Add(1)
		<-release
		fetchCtxErr <- ctx.Err()
		return []Material{SymmetricKey("HS256", "k1", []byte("s"))}, nil
	})
	store := NewStore(WithSource(src))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := store.Resolve(ctx, "HS256", "k1")
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("canceled caller kept waiting")
	}

	close(release)
	if err := <-fetchCtxErr; err != nil {
		t.Fatalf("fetch context was canceled with the caller: %v", err)
	}
	if _, err := store.Resolve(context.Background(), "HS256", "k1"); err != nil {
		t.Fatalf("resolve after fetch: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 fetch, got %d", got)
	}
}

func TestStoreMinFetchInterval(t *testing.T) {
	var calls atomic.Int32
	src := SourceFunc(func(context.Context) ([]Material, error) {
		calls.Add(1)
		return nil, nil
	})
	now := time.Unix(1_700_000_000, 0)
	store := NewStore(
		WithSource(src),
		WithMinFetchInterval(time.Minute),
		WithClock(func() time.Time { return now }),
	)

	for i := 0; i < 3; i++ {
		if _, err := store.Resolve(context.Background(), "RS256", "unknown"); !errors.Is(err, ErrKeyNotFound) {
			t.Fatalf("expected ErrKeyNotFound, got %v", err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected throttled fetches, got %d", got)
	}

	now = now.Add(time.Minute)
	_, _ = store.Resolve(context.Background(), "RS256", "unknown")
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected fetch after interval, got %d", got)
	}

	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected explicit refresh to bypass throttle, got %d", got)
	}
}

func TestStoreKeysSorted(t *testing.T) {
	store := NewStore(WithStaticKeys(
		SymmetricKey("HS512", "b", []byte("1")),
		SymmetricKey("HS256", "z", []byte("2")),
		SymmetricKey("HS256", "a", []byte("3")),
	))
	got := store.Keys()
	want := [][2]string{{"HS256", "a"}, {"HS256", "z"}, {"HS512", "b"}}
	if len(got) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].Algorithm != w[0] || got[i].KeyID != w[1] {
			t.Fatalf("key %d: expected %v, got %s/%s", i, w, got[i].Algorithm, got[i].KeyID)
		}
	}
}

func TestStoreStartRefreshesPeriodically(t *testing.T) {
	var calls atomic.Int32
	src := SourceFunc(func(context.Context) ([]Material, error) {
		calls.Add(1)
		return nil, nil
	})
	store := NewStore(WithSource(src))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	if calls.Load() < 2 {
		t.Fatalf("expected periodic refreshes, got %d", calls.Load())
	}
}
