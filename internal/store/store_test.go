package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "alpha", "first body")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("Create returned empty ID")
	}

	got, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "alpha" || got.Body != "first body" {
		t.Errorf("Get = %+v, want name=alpha body='first body'", got)
	}
}

func TestCreateRejectsEmptyName(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Create(context.Background(), "   ", ""); err == nil {
		t.Error("Create with blank name succeeded")
	}
}

func TestListOrdersByCreation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	names := []string{"one", "two", "three"}
	for _, name := range names {
		if _, err := s.Create(ctx, name, ""); err != nil {
			t.Fatalf("Create %s: %v", name, err)
		}
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != len(names) {
		t.Fatalf("List returned %d resources, want %d", len(all), len(names))
	}
}

func TestUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "before", "")
	if err != nil {
		t.Fatal(err)
	}

	updated, err := s.Update(ctx, created.ID, "after", "changed")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != "after" || updated.Body != "changed" {
		t.Errorf("Update = %+v", updated)
	}

	if _, err := s.Update(ctx, "no-such-id", "x", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update missing resource: %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "doomed", "")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete: %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete: %v, want ErrNotFound", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}
