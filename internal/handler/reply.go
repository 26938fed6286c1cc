package handler

import (
	"errors"
	"net/http"

	"famtool-server/internal/rpc"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

var errBadRequest = rpc.Errorf(rpc.InvalidArgument, "Invalid request")

// fail replies with the rpc error inside err. Anything untyped is logged and
// reported as internal.
func fail(c *gin.Context, logger zerolog.Logger, err error) {
	e := rpc.AsError(err)
	var typed *rpc.Error
	if !errors.As(err, &typed) {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		_ = c.Error(err)
	}
	c.JSON(rpc.HTTPStatus(e.Code), gin.H{"error": e})
}

// succeed replies with a Result as is and wraps any other payload.
func succeed(c *gin.Context, v any) {
	if r, ok := v.(rpc.Result); ok {
		c.JSON(http.StatusOK, r)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": v})
}
