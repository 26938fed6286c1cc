package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"famtool-server/internal/command"
	"famtool-server/internal/middleware"
	"famtool-server/internal/model"
	"famtool-server/internal/rpc"
	"famtool-server/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Names under a device key that agents cannot upload into.
var reservedCategories = map[string]struct{}{
	"CommandHistory": {},
	"commands":       {},
	"agent":          {},
}

// DeviceHandler serves the endpoints a paired device agent calls with its
// device token.
type DeviceHandler struct {
	Store   store.Store
	History *command.History
	Logger  zerolog.Logger
	Now     func() time.Time
}

func (h *DeviceHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// RequirePaired rejects device tokens whose device was unpaired or deleted
// after the token was issued.
func (h *DeviceHandler) RequirePaired(c *gin.Context) {
	uid, device, ok := middleware.DeviceFromContext(c)
	if !ok {
		fail(c, h.Logger, rpc.Errorf(rpc.Unauthenticated, "Invalid authentication token"))
		c.Abort()
		return
	}
	v, err := h.Store.Get(c.Request.Context(), model.AgentKeyPath(uid, device))
	if err != nil {
		fail(c, h.Logger, err)
		c.Abort()
		return
	}
	if v == nil {
		fail(c, h.Logger, rpc.Errorf(rpc.PermissionDenied, "Device is not paired."))
		c.Abort()
		return
	}
	c.Next()
}

func validCategory(name string) bool {
	if name == "" || strings.ContainsAny(name, "/.#$[]") {
		return false
	}
	_, reserved := reservedCategories[name]
	return !reserved
}

// Upload appends one telemetry record. Policy enforcement happens after the
// write lands.
func (h *DeviceHandler) Upload(c *gin.Context) {
	uid, device, _ := middleware.DeviceFromContext(c)
	category := c.Param("category")
	if !validCategory(category) {
		fail(c, h.Logger, rpc.Errorf(rpc.InvalidArgument, "Unknown category %q.", category))
		return
	}
	var record map[string]any
	if err := c.ShouldBindJSON(&record); err != nil || len(record) == 0 {
		fail(c, h.Logger, errBadRequest)
		return
	}
	if _, ok := record["timestamp"]; !ok {
		record["timestamp"] = h.now().UnixMilli()
	}

	id, err := h.Store.Push(c.Request.Context(), model.TelemetryPath(uid, device, category), record)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
}

// Status replaces the account's device status snapshot.
func (h *DeviceHandler) Status(c *gin.Context) {
	uid, _, _ := middleware.DeviceFromContext(c)
	var status model.DeviceStatus
	if err := c.ShouldBindJSON(&status); err != nil {
		fail(c, h.Logger, errBadRequest)
		return
	}
	status.LastSeen = h.now().UnixMilli()
	if err := h.Store.Set(c.Request.Context(), model.DeviceStatusPath(uid), status); err != nil {
		fail(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, rpc.OK("Status updated."))
}

func (h *DeviceHandler) Commands(c *gin.Context) {
	uid, device, _ := middleware.DeviceFromContext(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	entries, legacy, err := h.History.List(c.Request.Context(), uid, device, limit)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	if entries == nil {
		entries = []model.CommandEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"commands": entries, "legacy": legacy})
}

type commandStatusBody struct {
	Status model.CommandStatus `json:"status"`
}

func (h *DeviceHandler) CommandStatus(c *gin.Context) {
	uid, device, _ := middleware.DeviceFromContext(c)
	var body commandStatusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, h.Logger, errBadRequest)
		return
	}
	id := c.Param("id")
	if strings.ContainsAny(id, ".#$[]") {
		fail(c, h.Logger, rpc.Errorf(rpc.NotFound, "Command %s not found.", id))
		return
	}
	if err := h.History.UpdateStatus(c.Request.Context(), uid, device, id, body.Status); err != nil {
		fail(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, rpc.OK("Command status updated."))
}
