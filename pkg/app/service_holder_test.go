package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/osvaldoandrade/tokengate/pkg/config"
	"github.com/osvaldoandrade/tokengate/pkg/jwt/keys"
)

func parseConfig(t *testing.T, doc string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return cfg
}

func newHolder(t *testing.T) *ServiceHolder {
	t.Helper()
	store := keys.NewStore(keys.WithStaticKeys(keys.SymmetricKey("HS256", "", []byte(testSecret))))
	h, err := NewServiceHolder(parseConfig(t, testConfig), store, nil)
	if err != nil {
		t.Fatalf("new holder: %v", err)
	}
	return h
}

func TestServiceHolderReload(t *testing.T) {
	h := newHolder(t)
	if !h.Validating() {
		t.Fatal("expected validating service")
	}
	before := h.Current()

	disabled := strings.Replace(testConfig, "mode: enabled", "mode: disabled", 1)
	if err := h.Reload(parseConfig(t, disabled)); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if h.Validating() {
		t.Fatal("expected reload to disable validation")
	}
	if h.Current() == before {
		t.Fatal("expected a new service instance")
	}
}

func TestServiceHolderRejectsInvalidReload(t *testing.T) {
	h := newHolder(t)
	before := h.Current()

	bad := strings.Replace(testConfig, "[HS256]", "[none]", 1)
	if err := h.Reload(parseConfig(t, bad)); err == nil {
		t.Fatal("expected reload error")
	}
	if h.Current() != before {
		t.Fatal("failed reload must keep the previous service")
	}
}

func TestServiceHolderWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokengate.yaml")
	if err := os.WriteFile(path, []byte(testConfig), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	h := newHolder(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		h.Watch(ctx, path)
		close(done)
	}()

	disabled := []byte(strings.Replace(testConfig, "mode: enabled", "mode: disabled", 1))
	deadline := time.Now().Add(5 * time.Second)
	for h.Validating() {
		if time.Now().After(deadline) {
			t.Fatal("config change was not picked up")
		}
		// Rewrite until the watcher has registered the directory.
		if err := os.WriteFile(path, disabled, 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
