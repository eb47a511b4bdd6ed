package storage

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"
)

const (
	SettingAutoDelete = "auto_delete_seconds"

	DefaultAutoDelete = 600 * time.Second
)

// Directory layers configured access (owner and static admins) over a Store.
// It satisfies the broadcast recipient directory.
type Directory struct {
	Store

	mu     sync.RWMutex
	owner  int64
	admins map[int64]struct{}
	def    time.Duration
}

func NewDirectory(s Store, owner int64, admins []int64) *Directory {
	d := &Directory{Store: s, def: DefaultAutoDelete}
	d.SetAccess(owner, admins)
	return d
}

// SetAccess swaps the configured owner and admins (hot reload).
func (d *Directory) SetAccess(owner int64, admins []int64) {
	m := make(map[int64]struct{}, len(admins))
	for _, id := range admins {
		if id != 0 {
			m[id] = struct{}{}
		}
	}
	d.mu.Lock()
	d.owner, d.admins = owner, m
	d.mu.Unlock()
}

// SetDefaultAutoDelete sets the timer used until an admin stores one.
func (d *Directory) SetDefaultAutoDelete(v time.Duration) {
	d.mu.Lock()
	d.def = v
	d.mu.Unlock()
}

func (d *Directory) Owner() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.owner
}

func (d *Directory) IsOwner(id int64) bool {
	o := d.Owner()
	return o != 0 && id == o
}

// IsConfigured reports whether id is the owner or a statically configured admin.
func (d *Directory) IsConfigured(id int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.owner != 0 && id == d.owner {
		return true
	}
	_, ok := d.admins[id]
	return ok
}

func (d *Directory) IsAdmin(ctx context.Context, id int64) (bool, error) {
	if d.IsConfigured(id) {
		return true, nil
	}
	return d.Store.IsAdmin(ctx, id)
}

// AdminIDs returns configured and stored admins, owner first.
func (d *Directory) AdminIDs(ctx context.Context) ([]int64, error) {
	stored, err := d.Store.ListAdmins(ctx)
	if err != nil {
		return nil, err
	}
	d.mu.RLock()
	owner := d.owner
	static := lo.Keys(d.admins)
	d.mu.RUnlock()

	rest := lo.Uniq(append(static, stored...))
	rest = lo.Without(rest, owner)
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	if owner != 0 {
		return append([]int64{owner}, rest...), nil
	}
	return rest, nil
}

func (d *Directory) ListRecipients(ctx context.Context) ([]int64, error) {
	return d.Store.ListUsers(ctx)
}

func (d *Directory) RemoveRecipient(ctx context.Context, id int64) error {
	_, err := d.Store.RemoveUser(ctx, id)
	return err
}

// AutoDelete reads the current expiry timer. Zero disables expiry.
func (d *Directory) AutoDelete(ctx context.Context) (time.Duration, error) {
	d.mu.RLock()
	def := d.def
	d.mu.RUnlock()
	v, ok, err := d.Store.GetSetting(ctx, SettingAutoDelete)
	if err != nil || !ok {
		return def, err
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return def, nil
	}
	return time.Duration(secs) * time.Second, nil
}

func (d *Directory) SetAutoDelete(ctx context.Context, v time.Duration) error {
	if v < 0 {
		v = 0
	}
	return d.Store.PutSetting(ctx, SettingAutoDelete, strconv.Itoa(int(v/time.Second)))
}
