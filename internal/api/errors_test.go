package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/opensandbox/opensandbox/internal/orchestrator"
)

func newTestContext() (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestErrorResponseMapsKindsToStatus(t *testing.T) {
	cases := []struct {
		kind orchestrator.Kind
		want int
	}{
		{orchestrator.KindValidation, http.StatusBadRequest},
		{orchestrator.KindNotFound, http.StatusNotFound},
		{orchestrator.KindConflict, http.StatusConflict},
		{orchestrator.KindQuota, http.StatusTooManyRequests},
		{orchestrator.KindFatalState, http.StatusInternalServerError},
		{orchestrator.KindSubprocess, http.StatusInternalServerError},
		{orchestrator.KindStorage, http.StatusInternalServerError},
		{orchestrator.KindTransport, http.StatusInternalServerError},
		{orchestrator.KindProtocol, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		c, rec := newTestContext()
		err := &orchestrator.Error{Kind: tc.kind, Message: "boom"}
		if handlerErr := errorResponse(c, err); handlerErr != nil {
			t.Fatalf("errorResponse returned an error: %v", handlerErr)
		}
		if rec.Code != tc.want {
			t.Fatalf("kind %s: expected status %d, got %d", tc.kind, tc.want, rec.Code)
		}
	}
}

func TestErrorResponseFallsBackOn500ForUnknownErrors(t *testing.T) {
	c, rec := newTestContext()
	if err := errorResponse(c, errPlain("unexpected")); err != nil {
		t.Fatalf("errorResponse returned an error: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for a plain error, got %d", rec.Code)
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
