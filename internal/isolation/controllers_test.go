package isolation

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/hashicorp/go-hclog"

	"github.com/v9-labs/v9worker/internal/logs"
)

// fakeInterpreter writes a shell script that plays the echo-server role:
// it is invoked as "<script> -u <executable> <in_path> <out_path>" (mirroring
// "python3 -u file.py in out"), opens the two FIFOs and uppercases one line.
func fakeInterpreter(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-interpreter")
	script := `#!/bin/sh
# args: -u <executable> <in> <out>
in="$3"
out="$4"
line=$(head -n 1 < "$in")
upper=$(echo "$line" | tr '[:lower:]' '[:upper:]')
printf '%s\n' "$upper" > "$out"
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake interpreter: %v", err)
	}
	return path
}

func TestRawInterpreterControllerBootAndQuery(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("fifo semantics assumed posix")
	}
	executable := filepath.Join(t.TempDir(), "component.py")
	if err := os.WriteFile(executable, []byte("# unused by the fake interpreter\n"), 0o644); err != nil {
		t.Fatalf("write executable stub: %v", err)
	}

	tracker := logs.New(hclog.NewNullLogger())
	ctrl := NewRawInterpreterController(hclog.NewNullLogger(), fakeInterpreter(t), executable, tracker)

	handle, err := ctrl.Boot(context.Background())
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	defer handle.Close()

	resp, err := handle.Query("hello")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp != "HELLO" {
		t.Fatalf("Query = %q, want %q", resp, "HELLO")
	}
}
