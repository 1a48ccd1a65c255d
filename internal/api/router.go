// Package api is the control-plane REST surface: it binds incoming HTTP
// requests to Lifecycle Orchestrator calls and maps orchestrator error
// kinds to HTTP status codes. It carries no business logic of its own.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/opensandbox/opensandbox/internal/metrics"
	"github.com/opensandbox/opensandbox/internal/orchestrator"
)

// Server holds the API server's dependencies.
type Server struct {
	echo *echo.Echo
	orch *orchestrator.Orchestrator
}

// NewServer builds a Server with every /v1/vms route registered.
func NewServer(orch *orchestrator.Orchestrator) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, orch: orch}

	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(middleware.RequestID())
	e.Use(metrics.EchoMiddleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	v1 := e.Group("/v1")
	v1.GET("/vms", s.listVMs)
	v1.POST("/vms", s.createVM)
	v1.GET("/vms/:id", s.getVM)
	v1.POST("/vms/:id/start", s.startVM)
	v1.POST("/vms/:id/stop", s.stopVM)
	v1.DELETE("/vms/:id", s.destroyVM)
	v1.POST("/vms/:id/exec", s.execVM)
	v1.POST("/vms/:id/run-ts", s.runTsVM)
	v1.POST("/vms/:id/files/upload", s.uploadFile)
	v1.GET("/vms/:id/files/download", s.downloadFile)
	v1.POST("/vms/:id/snapshots", s.createSnapshot)

	return s
}

// Start serves HTTP on addr. Blocks until the server stops.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	return s.echo.Close()
}

// Echo returns the underlying echo instance, e.g. for graceful shutdown
// via echo.Echo.Shutdown(ctx).
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
