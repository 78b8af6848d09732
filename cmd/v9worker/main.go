// Command v9worker runs the serverless worker node: it activates
// user-provided components, keeps each one running inside its chosen
// isolation backend, and routes incoming HTTP requests to the right one.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"

	"github.com/v9-labs/v9worker/internal/component"
	"github.com/v9-labs/v9worker/internal/containercli"
	"github.com/v9-labs/v9worker/internal/pool"
	"github.com/v9-labs/v9worker/internal/router"
	"github.com/v9-labs/v9worker/internal/sysstatus"
)

// heartbeatInterval is how often the background loop calls
// Manager.Heartbeat to evict idle components.
const heartbeatInterval = 30 * time.Second

// containerCLIBinary is the external container CLI the adapter shells out
// to. Configurable via $V9_CONTAINER_CLI for environments where it isn't
// called "docker".
func containerCLIBinary() string {
	if bin := os.Getenv("V9_CONTAINER_CLI"); bin != "" {
		return bin
	}
	return "docker"
}

func main() {
	development := pflag.Bool("development", false, "listen on :8082 instead of :80 for local development")
	pflag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "worker",
		Level: hclog.Info,
	})

	port := 80
	if *development {
		port = 8082
	}
	addr := fmt.Sprintf("0.0.0.0:%d", port)

	adapter := containercli.New(containerCLIBinary())
	idlePool := pool.Get(adapter, logger)
	sampler := sysstatus.New()
	manager := component.NewManager(logger, adapter, idlePool, sampler)
	reqRouter := router.New(logger, manager)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runHeartbeatLoop(ctx, logger.Named("heartbeat"), manager)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.NoRoute(func(c *gin.Context) {
		body, err := readBody(c.Request)
		if err != nil {
			c.Data(http.StatusInternalServerError, "text/plain; charset=utf-8", []byte(err.Error()))
			return
		}
		result := reqRouter.Handle(c.Request.Context(), c.Request.Method, c.Request.URL.Path, c.Request.URL.RawQuery, string(body))
		c.Data(result.Status, result.ContentType, []byte(result.Body))
	})

	logger.Info("listening", "addr", addr, "development", *development)
	if err := engine.Run(addr); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// runHeartbeatLoop calls manager.Heartbeat on a fixed interval for the
// process lifetime, per the original's periodic-eviction-task design.
func runHeartbeatLoop(ctx context.Context, logger hclog.Logger, manager *component.Manager) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Trace("running heartbeat pass")
			manager.Heartbeat()
		}
	}
}
