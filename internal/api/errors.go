package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opensandbox/opensandbox/internal/orchestrator"
)

// errorResponse maps an orchestrator error kind to an HTTP status code and
// writes a JSON error body. Errors that are not *orchestrator.Error map to
// 500, since they indicate a bug rather than a caller mistake.
func errorResponse(c echo.Context, err error) error {
	oerr, ok := err.(*orchestrator.Error)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	status := http.StatusInternalServerError
	switch oerr.Kind {
	case orchestrator.KindValidation:
		status = http.StatusBadRequest
	case orchestrator.KindNotFound:
		status = http.StatusNotFound
	case orchestrator.KindConflict:
		status = http.StatusConflict
	case orchestrator.KindQuota:
		status = http.StatusTooManyRequests
	case orchestrator.KindFatalState, orchestrator.KindSubprocess, orchestrator.KindStorage,
		orchestrator.KindTransport, orchestrator.KindProtocol:
		status = http.StatusInternalServerError
	}

	return c.JSON(status, map[string]string{"error": oerr.Message, "kind": string(oerr.Kind)})
}
