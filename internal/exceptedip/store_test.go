package exceptedip_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/firasghr/xrayguard/internal/exceptedip"
)

func TestMemoryStore_AddRemove(t *testing.T) {
	s := exceptedip.NewMemoryStore()
	ctx := context.Background()

	if excepted, _ := s.IsExcepted(ctx, "1.1.1.1"); excepted {
		t.Fatal("expected not excepted before Add")
	}
	s.Add("1.1.1.1")
	if excepted, _ := s.IsExcepted(ctx, "1.1.1.1"); !excepted {
		t.Fatal("expected excepted after Add")
	}
	s.Remove("1.1.1.1")
	if excepted, _ := s.IsExcepted(ctx, "1.1.1.1"); excepted {
		t.Fatal("expected not excepted after Remove")
	}
}

func TestSQLiteStore_AddRemove(t *testing.T) {
	store, err := exceptedip.NewSQLiteStore(filepath.Join(t.TempDir(), "excepted.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	if excepted, _ := store.IsExcepted(ctx, "2.2.2.2"); excepted {
		t.Fatal("expected not excepted before Add")
	}
	if err := store.Add(ctx, "2.2.2.2"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if excepted, _ := store.IsExcepted(ctx, "2.2.2.2"); !excepted {
		t.Fatal("expected excepted after Add")
	}
	if err := store.Remove(ctx, "2.2.2.2"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if excepted, _ := store.IsExcepted(ctx, "2.2.2.2"); excepted {
		t.Fatal("expected not excepted after Remove")
	}
}
