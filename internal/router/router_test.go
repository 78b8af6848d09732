package router

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hashicorp/go-hclog"

	"github.com/v9-labs/v9worker/internal/component"
	"github.com/v9-labs/v9worker/internal/containercli"
	"github.com/v9-labs/v9worker/internal/stats"
	"github.com/v9-labs/v9worker/internal/sysstatus"
	"github.com/v9-labs/v9worker/internal/wire"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	m := component.NewManager(hclog.NewNullLogger(), containercli.New("true"), nil, sysstatus.New())
	return New(hclog.NewNullLogger(), m)
}

func TestHandleUnknownPathIs404(t *testing.T) {
	rt := newTestRouter(t)
	res := rt.Handle(context.Background(), "GET", "/nowhere", "", "")
	if res.Status != 404 || res.Body != NotFoundBody {
		t.Fatalf("got %+v", res)
	}
}

func TestHandleMetaWrongMethodIs405(t *testing.T) {
	rt := newTestRouter(t)
	res := rt.Handle(context.Background(), "GET", "/meta/activate", "", "")
	if res.Status != 405 || res.Body != "" {
		t.Fatalf("got %+v", res)
	}
}

func TestHandleMetaStatus(t *testing.T) {
	rt := newTestRouter(t)
	res := rt.Handle(context.Background(), "GET", "/meta/status", "", "")
	if res.Status != 200 {
		t.Fatalf("status = %d", res.Status)
	}
	var parsed wire.StatusResponse
	if err := json.Unmarshal([]byte(res.Body), &parsed); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
}

func TestHandleMetaActivateInvalidJSON(t *testing.T) {
	rt := newTestRouter(t)
	res := rt.Handle(context.Background(), "POST", "/meta/activate", "", "not json")
	if res.Status != 200 {
		t.Fatalf("status = %d, want 200 (invalid-request is reported in the body, not the HTTP status)", res.Status)
	}
	var parsed wire.ActivateResponse
	if err := json.Unmarshal([]byte(res.Body), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parsed.Result != wire.InvalidRequest {
		t.Fatalf("Result = %q, want invalid-request", parsed.Result)
	}
}

func TestHandleServerlessUnknownComponentIs404(t *testing.T) {
	rt := newTestRouter(t)
	res := rt.Handle(context.Background(), "GET", "/sl/alice/demo/handler", "", "")
	if res.Status != 404 {
		t.Fatalf("status = %d, want 404", res.Status)
	}
}

func TestClassifyColor(t *testing.T) {
	cases := map[int]stats.StatusColor{
		200: stats.StatusGreen,
		301: stats.StatusGreen,
		404: stats.StatusOrange,
		500: stats.StatusRed,
		543: stats.StatusRed,
	}
	for status, want := range cases {
		if got := ClassifyColor(status); got != want {
			t.Fatalf("ClassifyColor(%d) = %v, want %v", status, got, want)
		}
	}
}
