package metrics

import (
	"sync"

	"github.com/osvaldoandrade/tokengate/pkg/jwt/keys"
	"github.com/prometheus/client_golang/prometheus"
)

// KeySnapshotter exposes the key material currently held by a provider.
type KeySnapshotter interface {
	Keys() []keys.Material
}

type keyCollector struct {
	src KeySnapshotter

	entriesDesc *prometheus.Desc
}

func newKeyCollector(src KeySnapshotter) *keyCollector {
	return &keyCollector{
		src: src,
		entriesDesc: prometheus.NewDesc(
			"tokengate_key_cache_entries",
			"Current number of cached verification keys by algorithm and key type.",
			[]string{"alg", "type"},
			nil,
		),
	}
}

func (c *keyCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entriesDesc
}

func (c *keyCollector) Collect(ch chan<- prometheus.Metric) {
	if c.src == nil {
		return
	}
	type bucket struct{ alg, typ string }
	counts := map[bucket]int{}
	for _, m := range c.src.Keys() {
		counts[bucket{m.Algorithm, m.Type.String()}]++
	}
	for b, n := range counts {
		emitGauge(ch, c.entriesDesc, float64(n), b.alg, b.typ)
	}
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

var registerKeyCollectorOnce sync.Once

// RegisterKeyCollector exposes the key cache size of src. Only the first call
// registers; the key store is process-scoped.
func RegisterKeyCollector(src KeySnapshotter) {
	registerKeyCollectorOnce.Do(func() {
		prometheus.MustRegister(newKeyCollector(src))
	})
}
