package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	kit "filegate/internal/transport"
)

// state is the whole directory in memory. The file driver journals the
// records that mutate it.
type state struct {
	Users    map[int64]int64     `json:"users"`
	Admins   map[int64]int64     `json:"admins"`
	Banned   map[int64]int64     `json:"banned"`
	Settings map[string]string   `json:"settings"`
	Archive  map[int]kit.Content `json:"archive"`
}

func newState() *state {
	return &state{
		Users:    map[int64]int64{},
		Admins:   map[int64]int64{},
		Banned:   map[int64]int64{},
		Settings: map[string]string{},
		Archive:  map[int]kit.Content{},
	}
}

// fill replaces nil maps after a snapshot decode.
func (s *state) fill() {
	if s.Users == nil {
		s.Users = map[int64]int64{}
	}
	if s.Admins == nil {
		s.Admins = map[int64]int64{}
	}
	if s.Banned == nil {
		s.Banned = map[int64]int64{}
	}
	if s.Settings == nil {
		s.Settings = map[string]string{}
	}
	if s.Archive == nil {
		s.Archive = map[int]kit.Content{}
	}
}

const (
	opUserAdd    = "user+"
	opUserDel    = "user-"
	opAdminAdd   = "admin+"
	opAdminDel   = "admin-"
	opBan        = "ban+"
	opUnban      = "ban-"
	opUnbanAll   = "ban*"
	opSetting    = "set"
	opArchivePut = "archive"
)

type record struct {
	Op      string       `json:"op"`
	ID      int64        `json:"id,omitempty"`
	At      int64        `json:"at,omitempty"`
	Name    string       `json:"name,omitempty"`
	Value   string       `json:"value,omitempty"`
	Content *kit.Content `json:"content,omitempty"`
}

// apply mutates s and reports whether anything changed.
func (s *state) apply(r record) bool {
	add := func(m map[int64]int64) bool {
		if _, ok := m[r.ID]; ok {
			return false
		}
		m[r.ID] = r.At
		return true
	}
	del := func(m map[int64]int64) bool {
		if _, ok := m[r.ID]; !ok {
			return false
		}
		delete(m, r.ID)
		return true
	}

	switch r.Op {
	case opUserAdd:
		return add(s.Users)
	case opUserDel:
		return del(s.Users)
	case opAdminAdd:
		return add(s.Admins)
	case opAdminDel:
		return del(s.Admins)
	case opBan:
		return add(s.Banned)
	case opUnban:
		return del(s.Banned)
	case opUnbanAll:
		if len(s.Banned) == 0 {
			return false
		}
		s.Banned = map[int64]int64{}
		return true
	case opSetting:
		if v, ok := s.Settings[r.Name]; ok && v == r.Value {
			return false
		}
		s.Settings[r.Name] = r.Value
		return true
	case opArchivePut:
		if r.Content == nil {
			return false
		}
		s.Archive[int(r.ID)] = *r.Content
		return true
	}
	return false
}

func sortedKeys(m map[int64]int64) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type memStore struct {
	mu     sync.RWMutex
	st     *state
	audit  []AuditEntry
	closed bool

	// persist runs with mu held after r changed the state.
	persist func(r record) error
}

// NewMemory returns a process-local store.
func NewMemory() Store { return newMemStore(newState()) }

func newMemStore(st *state) *memStore { return &memStore{st: st} }

func (m *memStore) mutate(r record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutateLocked(r)
}

func (m *memStore) mutateLocked(r record) (bool, error) {
	if m.closed {
		return false, ErrClosed
	}
	if !m.st.apply(r) {
		return false, nil
	}
	if m.persist != nil {
		if err := m.persist(r); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (m *memStore) read(fn func(st *state)) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	fn(m.st)
	return nil
}

func now() int64 { return time.Now().Unix() }

func (m *memStore) AddUser(_ context.Context, id int64) (bool, error) {
	return m.mutate(record{Op: opUserAdd, ID: id, At: now()})
}

func (m *memStore) RemoveUser(_ context.Context, id int64) (bool, error) {
	return m.mutate(record{Op: opUserDel, ID: id})
}

func (m *memStore) ListUsers(context.Context) ([]int64, error) {
	var out []int64
	err := m.read(func(st *state) { out = sortedKeys(st.Users) })
	return out, err
}

func (m *memStore) CountUsers(context.Context) (int, error) {
	var n int
	err := m.read(func(st *state) { n = len(st.Users) })
	return n, err
}

func (m *memStore) AddAdmin(_ context.Context, id int64) (bool, error) {
	return m.mutate(record{Op: opAdminAdd, ID: id, At: now()})
}

func (m *memStore) RemoveAdmin(_ context.Context, id int64) (bool, error) {
	return m.mutate(record{Op: opAdminDel, ID: id})
}

func (m *memStore) ListAdmins(context.Context) ([]int64, error) {
	var out []int64
	err := m.read(func(st *state) { out = sortedKeys(st.Admins) })
	return out, err
}

func (m *memStore) IsAdmin(_ context.Context, id int64) (bool, error) {
	var ok bool
	err := m.read(func(st *state) { _, ok = st.Admins[id] })
	return ok, err
}

func (m *memStore) Ban(_ context.Context, id int64) (bool, error) {
	return m.mutate(record{Op: opBan, ID: id, At: now()})
}

func (m *memStore) Unban(_ context.Context, id int64) (bool, error) {
	return m.mutate(record{Op: opUnban, ID: id})
}

func (m *memStore) UnbanAll(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	if m.st != nil {
		n = len(m.st.Banned)
	}
	if _, err := m.mutateLocked(record{Op: opUnbanAll}); err != nil {
		return 0, err
	}
	return n, nil
}

func (m *memStore) ListBanned(context.Context) ([]int64, error) {
	var out []int64
	err := m.read(func(st *state) { out = sortedKeys(st.Banned) })
	return out, err
}

func (m *memStore) IsBanned(_ context.Context, id int64) (bool, error) {
	var ok bool
	err := m.read(func(st *state) { _, ok = st.Banned[id] })
	return ok, err
}

func (m *memStore) GetSetting(_ context.Context, name string) (string, bool, error) {
	var (
		v  string
		ok bool
	)
	err := m.read(func(st *state) { v, ok = st.Settings[name] })
	return v, ok, err
}

func (m *memStore) PutSetting(_ context.Context, name, value string) error {
	_, err := m.mutate(record{Op: opSetting, Name: name, Value: value})
	return err
}

func (m *memStore) PutArchive(_ context.Context, msgID int, c kit.Content) error {
	_, err := m.mutate(record{Op: opArchivePut, ID: int64(msgID), Content: &c})
	return err
}

func (m *memStore) LookupArchive(_ context.Context, ids []int) (map[int]kit.Content, error) {
	out := make(map[int]kit.Content, len(ids))
	err := m.read(func(st *state) {
		for _, id := range ids {
			if c, ok := st.Archive[id]; ok {
				out[id] = c
			}
		}
	})
	return out, err
}

func (m *memStore) CountArchive(context.Context) (int, error) {
	var n int
	err := m.read(func(st *state) { n = len(st.Archive) })
	return n, err
}

func (m *memStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.audit = append(m.audit, e)
	return nil
}

func (m *memStore) PruneAudit(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	kept := m.audit[:0]
	for _, e := range m.audit {
		if !e.At.Before(before) {
			kept = append(kept, e)
		}
	}
	n := int64(len(m.audit) - len(kept))
	m.audit = kept
	return n, nil
}

func (m *memStore) Ping(context.Context) error {
	return m.read(func(*state) {})
}

func (m *memStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
