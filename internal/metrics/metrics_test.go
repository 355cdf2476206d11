package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/osvaldoandrade/tokengate/pkg/jwt"
	"github.com/osvaldoandrade/tokengate/pkg/jwt/keys"
)

type fixedKeys []keys.Material

func (f fixedKeys) Keys() []keys.Material { return f }

func TestObservers(t *testing.T) {
	before := testutil.ToFloat64(TokenDecodeTotal.WithLabelValues("id_token", "expired"))
	ObserveTokenDecode(jwt.IDToken, "expired", 3*time.Millisecond)
	if got := testutil.ToFloat64(TokenDecodeTotal.WithLabelValues("id_token", "expired")); got != before+1 {
		t.Fatalf("token decode counter: expected %v, got %v", before+1, got)
	}

	before = testutil.ToFloat64(KeyFetchTotal.WithLabelValues("error"))
	ObserveKeyFetch("error", time.Second)
	if got := testutil.ToFloat64(KeyFetchTotal.WithLabelValues("error")); got != before+1 {
		t.Fatalf("key fetch counter: expected %v, got %v", before+1, got)
	}

	before = testutil.ToFloat64(AuthzDecisionsTotal.WithLabelValues("deny"))
	ObserveDecision("deny")
	if got := testutil.ToFloat64(AuthzDecisionsTotal.WithLabelValues("deny")); got != before+1 {
		t.Fatalf("decision counter: expected %v, got %v", before+1, got)
	}
}

func TestKeyCollector(t *testing.T) {
	c := newKeyCollector(fixedKeys{
		keys.SymmetricKey("HS256", "a", []byte("x")),
		keys.SymmetricKey("HS256", "b", []byte("y")),
		{Algorithm: "RS256", KeyID: "r", Type: keys.Asymmetric},
	})
	want := `
# HELP tokengate_key_cache_entries Current number of cached verification keys by algorithm and key type.
# TYPE tokengate_key_cache_entries gauge
tokengate_key_cache_entries{alg="HS256",type="symmetric"} 2
tokengate_key_cache_entries{alg="RS256",type="asymmetric"} 1
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(want)); err != nil {
		t.Fatal(err)
	}
}
