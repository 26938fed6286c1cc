package handler

import (
	"errors"
	"net/http"

	"famtool-server/internal/auth"
	"famtool-server/internal/identity"
	"famtool-server/internal/rpc"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type IdentityHandler struct {
	Identity    *identity.Service
	TokenConfig auth.TokenConfig
	Logger      zerolog.Logger
}

type signupBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type signinBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *IdentityHandler) Signup(c *gin.Context) {
	var body signupBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, h.Logger, errBadRequest)
		return
	}

	ident, err := h.Identity.Create(c.Request.Context(), body.Email, body.Password, body.Name)
	switch {
	case errors.Is(err, identity.ErrEmailTaken):
		fail(c, h.Logger, rpc.Errorf(rpc.InvalidArgument, "Email is already registered."))
		return
	case errors.Is(err, identity.ErrInvalidEmail), errors.Is(err, identity.ErrWeakPassword):
		fail(c, h.Logger, rpc.Errorf(rpc.InvalidArgument, "%s", err.Error()))
		return
	case err != nil:
		fail(c, h.Logger, err)
		return
	}

	h.issue(c, ident.UID)
}

func (h *IdentityHandler) Signin(c *gin.Context) {
	var body signinBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, h.Logger, errBadRequest)
		return
	}

	ident, err := h.Identity.Authenticate(c.Request.Context(), body.Email, body.Password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		fail(c, h.Logger, rpc.Errorf(rpc.Unauthenticated, "Invalid email or password."))
		return
	}
	if err != nil {
		fail(c, h.Logger, err)
		return
	}

	h.issue(c, ident.UID)
}

func (h *IdentityHandler) issue(c *gin.Context, uid string) {
	token, err := auth.CreateToken(uid, h.TokenConfig)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "uid": uid, "token": token})
}
