package logs

import (
	"os"
	"testing"

	"github.com/hashicorp/go-hclog"
)

func TestCreateAssociatedPolicySnapshot(t *testing.T) {
	tr := New(hclog.NewNullLogger())

	policy, err := tr.CreateAssociatedPolicy()
	if err != nil {
		t.Fatalf("CreateAssociatedPolicy: %v", err)
	}
	defer os.Remove(policy.Path())

	if err := os.WriteFile(policy.Path(), []byte("hello stdout"), 0o644); err != nil {
		t.Fatalf("write capture file: %v", err)
	}

	gen, logs := tr.Snapshot()
	if gen == 0 {
		t.Fatal("expected a nonzero generation")
	}
	if logs == nil || *logs != "hello stdout" {
		t.Fatalf("Snapshot logs = %v, want %q", logs, "hello stdout")
	}
}

func TestIgnorePolicySnapshotIsNil(t *testing.T) {
	tr := New(hclog.NewNullLogger())
	tr.SetIgnorePolicy()

	_, logs := tr.Snapshot()
	if logs != nil {
		t.Fatalf("Snapshot logs = %v, want nil for Ignore policy", *logs)
	}
}

func TestGenerationAdvancesAndOrders(t *testing.T) {
	tr := New(hclog.NewNullLogger())

	p1, err := tr.CreateAssociatedPolicy()
	if err != nil {
		t.Fatalf("CreateAssociatedPolicy: %v", err)
	}
	defer os.Remove(p1.Path())
	gen1, _ := tr.Snapshot()

	p2, err := tr.CreateAssociatedPolicy()
	if err != nil {
		t.Fatalf("CreateAssociatedPolicy: %v", err)
	}
	defer os.Remove(p2.Path())
	gen2, _ := tr.Snapshot()

	if gen2 <= gen1 {
		t.Fatalf("generation did not strictly advance: %d -> %d", gen1, gen2)
	}
}

func TestReplacingLiveReferencedPolicyWarns(t *testing.T) {
	tr := New(hclog.NewNullLogger())
	p1, err := tr.CreateAssociatedPolicy()
	if err != nil {
		t.Fatalf("CreateAssociatedPolicy: %v", err)
	}
	defer os.Remove(p1.Path())

	p1.Acquire()
	// Replacing while p1 still has a live reference should not panic or
	// error; the warning path is exercised even though we can't assert on
	// hclog.NewNullLogger's output.
	p2, err := tr.CreateAssociatedPolicy()
	if err != nil {
		t.Fatalf("second CreateAssociatedPolicy: %v", err)
	}
	defer os.Remove(p2.Path())
	p1.Release()
}
