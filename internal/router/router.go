// Package router implements the request router: parses an incoming HTTP
// request's path into {meta, serverless} routes, calls the
// component manager, and maps the result to an HTTP status/body. It is
// deliberately framework-agnostic — cmd/v9worker wires it under gin.
package router

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/v9-labs/v9worker/internal/component"
	"github.com/v9-labs/v9worker/internal/stats"
	"github.com/v9-labs/v9worker/internal/wire"
)

// NotFoundBody is the fixed body for an unrecognised path.
const NotFoundBody = "v9: worker 404"

// Result is an HTTP status/body pair the caller's HTTP framework should
// write back verbatim.
type Result struct {
	Status      int
	Body        string
	ContentType string
}

const (
	contentTypeJSON  = "application/json"
	contentTypePlain = "text/plain; charset=utf-8"
)

// Router dispatches parsed HTTP calls to a component.Manager.
type Router struct {
	logger  hclog.Logger
	manager *component.Manager
}

// New returns a Router dispatching to manager.
func New(logger hclog.Logger, manager *component.Manager) *Router {
	return &Router{logger: logger.Named("router"), manager: manager}
}

// Handle parses path (expected to begin with "/") and dispatches it.
// ctx carries cancellation for the underlying component call; cancellation
// only takes effect before dispatch — once the call is running it completes
// or times out on its own.
func (rt *Router) Handle(ctx context.Context, httpVerb, path, rawQuery, body string) Result {
	segments := splitPath(path)
	if len(segments) == 0 {
		return notFound(path)
	}

	switch segments[0] {
	case "meta":
		if len(segments) != 2 {
			return notFound(path)
		}
		return rt.handleMeta(ctx, httpVerb, segments[1], body)
	case "sl":
		if len(segments) < 4 {
			return notFound(path)
		}
		return rt.handleServerless(ctx, httpVerb, segments, rawQuery, body)
	default:
		return notFound(path)
	}
}

// splitPath splits on '/' and drops the leading empty segment produced by
// an absolute path's initial slash.
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	if len(parts) > 0 && parts[0] == "" {
		parts = parts[1:]
	}
	// A trailing slash leaves a trailing empty segment; a bare "/" leaves
	// one empty segment after the drop above. Either way an all-empty
	// remainder means there is nothing to route.
	if len(parts) == 1 && parts[0] == "" {
		return nil
	}
	return parts
}

func notFound(path string) Result {
	return Result{Status: 404, Body: NotFoundBody, ContentType: contentTypePlain}
}

func wrongMethod() Result {
	return Result{Status: 405, Body: "", ContentType: contentTypePlain}
}

func (rt *Router) handleMeta(ctx context.Context, httpVerb, action, body string) Result {
	switch action {
	case "activate":
		if httpVerb != "POST" {
			return wrongMethod()
		}
		var req wire.ActivateRequest
		if err := json.Unmarshal([]byte(body), &req); err != nil {
			return jsonResult(wire.ActivateResponse{Result: wire.InvalidRequest, Message: err.Error()})
		}
		return jsonResult(rt.manager.Activate(ctx, req))
	case "deactivate":
		if httpVerb != "POST" {
			return wrongMethod()
		}
		var req wire.DeactivateRequest
		if err := json.Unmarshal([]byte(body), &req); err != nil {
			return jsonResult(wire.DeactivateResponse{Result: wire.DeactivationInvalidInput, Message: err.Error()})
		}
		return jsonResult(rt.manager.Deactivate(req))
	case "status":
		if httpVerb != "GET" {
			return wrongMethod()
		}
		return jsonResult(rt.manager.Status())
	case "logs":
		if httpVerb != "GET" {
			return wrongMethod()
		}
		return jsonResult(rt.manager.Logs())
	default:
		return notFound("meta/" + action)
	}
}

func (rt *Router) handleServerless(ctx context.Context, httpVerb string, segments []string, rawQuery, body string) Result {
	path := component.Path{User: segments[1], Repo: segments[2]}
	calledFunction := segments[3]
	trailingPath := strings.Join(segments[4:], "/")

	result := rt.manager.Invoke(ctx, path, calledFunction, httpVerb, trailingPath, rawQuery, body)
	if !result.Found {
		return notFound(strings.Join(segments, "/"))
	}

	rt.manager.SetStatusColor(path, ClassifyColor(result.HTTPStatus))
	return Result{Status: result.HTTPStatus, Body: result.Body, ContentType: contentTypePlain}
}

// ClassifyColor buckets an HTTP status into the router's StatusColor
// scheme: 2xx/3xx green, 4xx orange, 5xx (including the worker-internal
// 543) red.
func ClassifyColor(status int) stats.StatusColor {
	switch status / 100 {
	case 2, 3:
		return stats.StatusGreen
	case 4:
		return stats.StatusOrange
	case 5:
		return stats.StatusRed
	default:
		return stats.StatusUnknown
	}
}

func jsonResult(v interface{}) Result {
	b, err := json.Marshal(v)
	if err != nil {
		return Result{Status: 543, Body: err.Error(), ContentType: contentTypePlain}
	}
	return Result{Status: 200, Body: string(b), ContentType: contentTypeJSON}
}
