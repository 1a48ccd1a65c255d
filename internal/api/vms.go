package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opensandbox/opensandbox/pkg/types"
)

func (s *Server) listVMs(c echo.Context) error {
	vms, err := s.orch.List(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, vms)
}

func (s *Server) createVM(c echo.Context) error {
	var req types.CreateVmRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	vm, err := s.orch.Create(c.Request().Context(), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, vm)
}

func (s *Server) getVM(c echo.Context) error {
	vm, err := s.orch.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, vm)
}

func (s *Server) startVM(c echo.Context) error {
	vm, err := s.orch.Start(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, vm)
}

func (s *Server) stopVM(c echo.Context) error {
	vm, err := s.orch.Stop(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, vm)
}

func (s *Server) destroyVM(c echo.Context) error {
	if err := s.orch.Destroy(c.Request().Context(), c.Param("id")); err != nil {
		return errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
