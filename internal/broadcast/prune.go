package broadcast

import (
	"sort"
	"time"
)

func (e *Engine) pruneStatus(now time.Time) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	if len(e.status) == 0 {
		return
	}

	for id, st := range e.status {
		ref := st.DoneAt
		if ref.IsZero() {
			// Queued or running jobs are never reaped by age.
			continue
		}
		if now.Sub(ref) > e.statusTTL {
			delete(e.status, id)
		}
	}
	if len(e.status) <= e.statusMax {
		return
	}

	type kv struct {
		id string
		t  time.Time
	}
	done := make([]kv, 0, len(e.status))
	for id, st := range e.status {
		if !st.DoneAt.IsZero() {
			done = append(done, kv{id: id, t: st.DoneAt})
		}
	}
	sort.Slice(done, func(i, j int) bool { return done[i].t.Before(done[j].t) })
	excess := len(e.status) - e.statusMax
	for i := 0; i < excess && i < len(done); i++ {
		delete(e.status, done[i].id)
	}
}
