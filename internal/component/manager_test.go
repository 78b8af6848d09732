package component

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"

	"github.com/v9-labs/v9worker/internal/containercli"
	"github.com/v9-labs/v9worker/internal/stats"
	"github.com/v9-labs/v9worker/internal/sysstatus"
	"github.com/v9-labs/v9worker/internal/wire"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(hclog.NewNullLogger(), containercli.New("true"), nil, sysstatus.New())
}

func TestManagerActivateInvokeDeactivate(t *testing.T) {
	m := newTestManager(t)

	executable := filepath.Join(t.TempDir(), "component.py")
	if err := os.WriteFile(executable, []byte("# stub\n"), 0o644); err != nil {
		t.Fatalf("write executable: %v", err)
	}

	// Activate only constructs the controller; it never boots a process,
	// so this exercises registry bookkeeping without depending on a real
	// "python3" binary being on PATH. The pipe round-trip itself is
	// covered by the isolation package's own tests.
	req := wire.ActivateRequest{
		ID:              wire.ComponentID{User: "alice", Repo: "demo", Hash: "abc"},
		ExecutableFile:  executable,
		ExecutionMethod: wire.ExecutionMethodRawInterpreter,
	}

	resp := m.Activate(context.Background(), req)
	if resp.Result != wire.ActivationSuccessful {
		t.Fatalf("Activate = %+v", resp)
	}

	again := m.Activate(context.Background(), req)
	if again.Result != wire.AlreadyRunning {
		t.Fatalf("second Activate = %+v, want AlreadyRunning", again)
	}

	status := m.Status()
	if len(status.ActiveComponents) != 1 {
		t.Fatalf("Status active components = %d, want 1", len(status.ActiveComponents))
	}
	if status.ActiveComponents[0].ID.User != "alice" {
		t.Fatalf("unexpected active component: %+v", status.ActiveComponents[0])
	}

	logsResp := m.Logs()
	if len(logsResp.Components) != 1 {
		t.Fatalf("Logs components = %d, want 1", len(logsResp.Components))
	}

	m.SetStatusColor(Path{User: "alice", Repo: "demo"}, stats.StatusGreen)
	status = m.Status()
	if status.ActiveComponents[0].StatusColor != "green" {
		t.Fatalf("StatusColor = %q, want green", status.ActiveComponents[0].StatusColor)
	}

	deact := m.Deactivate(wire.DeactivateRequest{ID: wire.ComponentID{User: "alice", Repo: "demo"}})
	if deact.Result != wire.DeactivationSuccessful {
		t.Fatalf("Deactivate = %+v", deact)
	}

	missing := m.Deactivate(wire.DeactivateRequest{ID: wire.ComponentID{User: "alice", Repo: "demo"}})
	if missing.Result != wire.ComponentNotFound {
		t.Fatalf("second Deactivate = %+v, want ComponentNotFound", missing)
	}
}

func TestManagerInvokeUnknownComponent(t *testing.T) {
	m := newTestManager(t)
	result := m.Invoke(context.Background(), Path{User: "nobody", Repo: "nothing"}, "fn", "GET", "", "", "")
	if result.Found {
		t.Fatal("expected Found=false for an unregistered component")
	}
}
