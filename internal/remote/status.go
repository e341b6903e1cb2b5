package remote

import (
	"sort"
	"sync"
	"time"
)

// MirrorStatus tracks one mirror's recent health.
type MirrorStatus struct {
	URL                 string    `json:"url"`
	LastSuccess         time.Time `json:"lastSuccess,omitzero"`
	LastFailure         time.Time `json:"lastFailure,omitzero"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
}

type healthTracker struct {
	mu     sync.Mutex
	status map[string]*MirrorStatus
}

func newHealthTracker() *healthTracker {
	return &healthTracker{status: map[string]*MirrorStatus{}}
}

func (h *healthTracker) get(url string) *MirrorStatus {
	st, ok := h.status[url]
	if !ok {
		st = &MirrorStatus{URL: url}
		h.status[url] = st
	}
	return st
}

func (h *healthTracker) success(url string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.get(url)
	st.LastSuccess = time.Now()
	st.ConsecutiveFailures = 0
}

func (h *healthTracker) failure(url string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.get(url)
	st.LastFailure = time.Now()
	st.ConsecutiveFailures++
}

// order returns mirrors healthiest first: fewest consecutive failures
// wins, configured order breaks ties.
func (h *healthTracker) order(mirrors []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := append([]string(nil), mirrors...)
	sort.SliceStable(out, func(i, j int) bool {
		return h.get(out[i]).ConsecutiveFailures < h.get(out[j]).ConsecutiveFailures
	})
	return out
}

// snapshot returns a copy of the known mirror statuses.
func (h *healthTracker) snapshot() []MirrorStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]MirrorStatus, 0, len(h.status))
	for _, st := range h.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}
