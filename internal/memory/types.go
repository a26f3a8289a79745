package memory

import (
	"sync"
	"sync/atomic"
	"time"
)

// Default tier TTLs. Individual working memory is short-lived; shared
// conversation memory survives considerably longer.
const (
	DefaultIndividualTTL = 24 * time.Hour
	DefaultSharedTTL     = 7 * 24 * time.Hour
)

// cleanupBatchSize bounds how many expired rows one cleanup pass loads.
const cleanupBatchSize = 500

// health tracks whether any tier fault was swallowed since the last stats
// read. It is shared by both stores and read-and-cleared by the manager.
type health struct {
	degraded atomic.Bool
}

func (h *health) markDegraded() {
	h.degraded.Store(true)
}

// snapshot returns the degraded flag and clears it.
func (h *health) snapshot() bool {
	return h.degraded.Swap(false)
}

// ttlSetting is a hot-reloadable duration.
type ttlSetting struct {
	nanos atomic.Int64
}

func newTTLSetting(d time.Duration) *ttlSetting {
	s := &ttlSetting{}
	s.nanos.Store(int64(d))
	return s
}

func (s *ttlSetting) get() time.Duration {
	return time.Duration(s.nanos.Load())
}

func (s *ttlSetting) set(d time.Duration) {
	if d > 0 {
		s.nanos.Store(int64(d))
	}
}

// sampleWindow keeps a bounded ring of latency samples so averages stay
// recent and memory stays constant under load.
type sampleWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
}

const sampleWindowSize = 1024

func newSampleWindow() *sampleWindow {
	return &sampleWindow{samples: make([]time.Duration, sampleWindowSize)}
}

func (w *sampleWindow) add(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = d
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
}

func (w *sampleWindow) average() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	if n == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < n; i++ {
		sum += w.samples[i]
	}
	return sum / time.Duration(n)
}

func (w *sampleWindow) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next = 0
	w.full = false
}
