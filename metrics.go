package fragmux

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics counts sessions and received fragments. Each instance owns its
// own set, so several servers may live in one process.
type Metrics struct {
	set       *metrics.Set
	sessions  *metrics.Counter
	items     *metrics.Counter
	fragments [NumChannels]*metrics.Counter
}

// NewMetrics registers a fresh set of counters.
func NewMetrics() *Metrics {
	set := metrics.NewSet()
	m := &Metrics{
		set:      set,
		sessions: set.NewCounter("fragmux_sessions_total"),
		items:    set.NewCounter("fragmux_session_items_total"),
	}
	for k := range m.fragments {
		m.fragments[k] = set.NewCounter(fmt.Sprintf(`fragmux_fragments_total{channel=%q}`, ChannelKind(k)))
	}
	return m
}

func (m *Metrics) sessionDone(s *Session) {
	m.sessions.Inc()
	m.items.Add(s.ItemCount)
}

func (m *Metrics) fragment(kind ChannelKind) {
	m.fragments[kind].Inc()
}

// Fragments reports the total received on one channel.
func (m *Metrics) Fragments(kind ChannelKind) uint64 {
	return m.fragments[kind].Get()
}

// Sessions reports the number of completed sessions.
func (m *Metrics) Sessions() uint64 {
	return m.sessions.Get()
}

// WritePrometheus writes every counter in Prometheus text format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}
