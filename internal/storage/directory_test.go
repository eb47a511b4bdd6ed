package storage

import (
	"context"
	"testing"
	"time"
)

func TestDirectoryAccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := NewDirectory(NewMemory(), 1, []int64{2, 0})
	d.Store.AddAdmin(ctx, 3)

	for id, want := range map[int64]bool{1: true, 2: true, 3: true, 4: false} {
		if got, _ := d.IsAdmin(ctx, id); got != want {
			t.Fatalf("IsAdmin(%d) = %v, want %v", id, got, want)
		}
	}
	if !d.IsOwner(1) || d.IsOwner(2) {
		t.Fatal("IsOwner mismatch")
	}

	ids, err := d.AdminIDs(ctx)
	if err != nil || len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Fatalf("AdminIDs = %v, %v", ids, err)
	}

	d.SetAccess(9, nil)
	if ok, _ := d.IsAdmin(ctx, 2); ok {
		t.Fatal("static admin kept after SetAccess")
	}
}

func TestDirectoryAutoDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := NewDirectory(NewMemory(), 1, nil)

	if v, err := d.AutoDelete(ctx); err != nil || v != DefaultAutoDelete {
		t.Fatalf("default AutoDelete = %v, %v", v, err)
	}
	if err := d.SetAutoDelete(ctx, 90*time.Second); err != nil {
		t.Fatalf("SetAutoDelete: %v", err)
	}
	if v, _ := d.AutoDelete(ctx); v != 90*time.Second {
		t.Fatalf("AutoDelete = %v, want 90s", v)
	}
	d.SetAutoDelete(ctx, 0)
	if v, _ := d.AutoDelete(ctx); v != 0 {
		t.Fatalf("AutoDelete = %v, want disabled", v)
	}
}

func TestDirectoryRecipients(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := NewDirectory(NewMemory(), 1, nil)
	d.AddUser(ctx, 5)
	d.AddUser(ctx, 6)
	if err := d.RemoveRecipient(ctx, 5); err != nil {
		t.Fatalf("RemoveRecipient: %v", err)
	}
	ids, _ := d.ListRecipients(ctx)
	if len(ids) != 1 || ids[0] != 6 {
		t.Fatalf("ListRecipients = %v", ids)
	}
}
