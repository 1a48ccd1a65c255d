package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) createSnapshot(c echo.Context) error {
	meta, err := s.orch.CreateSnapshot(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, meta)
}
