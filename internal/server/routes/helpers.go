package routes

import (
	"errors"
	"net"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"

	"github.com/driftline/ledger/pkg/envelope"
	"github.com/driftline/ledger/pkg/logger"
)

type errorResponse struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// respondError maps the layered error contract onto status codes:
// validation failures carry the field path with a 400, unreachable
// storage is a 503 so callers can retry, everything else is a 500.
func respondError(c echo.Context, err error) error {
	var verr *envelope.ValidationError
	if errors.As(err, &verr) {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Message: verr.Message,
			Field:   verr.Field,
		})
	}

	if isStorageUnavailable(err) {
		logger.Error("[Server] Storage unavailable", "err", err)
		return c.JSON(http.StatusServiceUnavailable, errorResponse{
			Message: "Storage unavailable",
		})
	}

	logger.Error("[Server] Request failed", "err", err)
	return c.JSON(http.StatusInternalServerError, errorResponse{
		Message: "Internal server error",
	})
}

func isStorageUnavailable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
