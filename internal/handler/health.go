package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

type HealthHandler struct {
	Region string
}

func (h *HealthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "region": h.Region, "version": Version})
}
