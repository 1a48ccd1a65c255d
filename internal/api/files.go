package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) uploadFile(c echo.Context) error {
	dest := c.QueryParam("dest")
	if dest == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "dest query parameter is required"})
	}

	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read request body: " + err.Error()})
	}

	if err := s.orch.Upload(c.Request().Context(), c.Param("id"), dest, data); err != nil {
		return errorResponse(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) downloadFile(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "path query parameter is required"})
	}

	data, err := s.orch.Download(c.Request().Context(), c.Param("id"), path)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Blob(http.StatusOK, "application/octet-stream", data)
}
