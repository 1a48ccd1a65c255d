package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opensandbox/opensandbox/pkg/types"
)

func (s *Server) execVM(c echo.Context) error {
	var req types.ExecRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Cmd == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "cmd is required"})
	}

	result, err := s.orch.Exec(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) runTsVM(c echo.Context) error {
	var req types.ExecRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Code == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "code is required"})
	}

	result, err := s.orch.RunTs(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
