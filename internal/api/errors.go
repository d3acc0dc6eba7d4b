package api

import (
	"errors"
	"net/http"

	"market-signal-engine-go/internal/backtest"
	"market-signal-engine-go/internal/gateway"
	"market-signal-engine-go/internal/scanner"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error       string              `json:"error"`
	Message     string              `json:"message,omitempty"`
	RemainingMs int64               `json:"remaining_ms,omitempty"`
	Fields      []string            `json:"fields,omitempty"`
	Report      *scanner.ScanReport `json:"report,omitempty"`
}

// writeError maps domain errors onto status codes.
func (h *Handler) writeError(c echo.Context, err error) error {
	var (
		cooldown *scanner.CooldownActiveError
		failed   *gateway.AllProvidersFailedError
		scan     *scanner.ScanFailedError
		invalid  validator.ValidationErrors
	)
	switch {
	case errors.As(err, &cooldown):
		return c.JSON(http.StatusTooManyRequests, errorResponse{Error: cooldown.Error(), RemainingMs: cooldown.RemainingMs()})
	case errors.As(err, &invalid):
		fields := make([]string, 0, len(invalid))
		for _, fe := range invalid {
			fields = append(fields, fe.Field()+": "+fe.Tag())
		}
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request", Fields: fields})
	case errors.Is(err, backtest.ErrInvalidStrategy):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, scanner.ErrScanInProgress):
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, scanner.ErrAlertNotFound), errors.Is(err, scanner.ErrUnknownAssetClass):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &scan):
		return h.writeScanFailure(c, scan, nil)
	case errors.As(err, &failed):
		return c.JSON(failureStatus(failed.RateLimited(), failed.Unavailable()), errorResponse{Error: failed.UserMessage()})
	case errors.Is(err, scanner.ErrScanFailed):
		return c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return c.JSON(he.Code, errorResponse{Error: http.StatusText(he.Code)})
	}
	h.logger.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

// writeScanFailure answers a scan in which every symbol failed, carrying the
// per-symbol report when there is one.
func (h *Handler) writeScanFailure(c echo.Context, err *scanner.ScanFailedError, report *scanner.ScanReport) error {
	return c.JSON(failureStatus(err.RateLimited(), err.Unavailable()), errorResponse{
		Error:   err.Error(),
		Message: err.UserMessage(),
		Report:  report,
	})
}

func failureStatus(rateLimited, unavailable bool) int {
	switch {
	case rateLimited:
		return http.StatusTooManyRequests
	case unavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}
