package jobs

import (
	"context"
	"io"
	"testing"
)

func noop(ctx context.Context, log io.Writer, args map[string]string) (int, error) {
	return 0, nil
}

func TestRegistryResolve(t *testing.T) {
	r, err := NewRegistry(Job{ID: "sweep", Run: noop})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := r.Resolve("sweep"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := r.Resolve("nope"); err == nil {
		t.Fatalf("expected unknown job error")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	if _, err := NewRegistry(Job{ID: "a", Run: noop}, Job{ID: "a", Run: noop}); err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestRegistryRejectsNilRun(t *testing.T) {
	if _, err := NewRegistry(Job{ID: "a"}); err == nil {
		t.Fatalf("expected nil handler error")
	}
	if _, err := NewRegistry(Job{Run: noop}); err == nil {
		t.Fatalf("expected missing id error")
	}
}

func TestRegistryIDsSorted(t *testing.T) {
	r, err := NewRegistry(Job{ID: "b", Run: noop}, Job{ID: "a", Run: noop})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	ids := r.IDs()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("unexpected ids %v", ids)
	}
}
