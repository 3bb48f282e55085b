package httpapi

import (
	"net/http"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type handlers struct {
	engine Engine
	logger *zap.Logger
}

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type emailCodeRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required,numeric"`
}

type userRequest struct {
	UserID string `json:"userId" binding:"required"`
}

type userCodeRequest struct {
	UserID string `json:"userId" binding:"required"`
	Code   string `json:"code" binding:"required,numeric"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type sessionRequest struct {
	Email  string `json:"email" binding:"required,email"`
	Secret string `json:"secret" binding:"required"`
}

func (h *handlers) requestLoginOTP(c *gin.Context) {
	var body emailRequest
	if !bind(c, &body) {
		return
	}
	if _, err := h.engine.RequestLoginOTP(c.Request.Context(), body.Email); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *handlers) verifyLoginOTP(c *gin.Context) {
	var body emailCodeRequest
	if !bind(c, &body) {
		return
	}
	res, err := h.engine.VerifyLoginOTP(c.Request.Context(), body.Email, body.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := gin.H{
		"success":                   true,
		"userId":                    res.UserID,
		"requiresSecondFactor":      res.RequiresSecondFactor,
		"requiresEmailVerification": res.RequiresEmailVerification,
	}
	if !res.NextExpiresAt.IsZero() {
		out["expiresAt"] = res.NextExpiresAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) requestSecondFactor(c *gin.Context) {
	var body userRequest
	if !bind(c, &body) {
		return
	}
	expiresAt, err := h.engine.RequestSecondFactor(c.Request.Context(), body.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "expiresAt": expiresAt.UTC().Format(time.RFC3339)})
}

func (h *handlers) verifySecondFactor(c *gin.Context) {
	var body userCodeRequest
	if !bind(c, &body) {
		return
	}
	user, err := h.engine.VerifySecondFactor(c.Request.Context(), body.UserID, body.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
}

func (h *handlers) toggleSecondFactor(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		h.fail(c, goVerify.ErrUnauthorized)
		return
	}
	var body toggleRequest
	if !bind(c, &body) {
		return
	}
	user, err := h.engine.SetSecondFactor(c.Request.Context(), principal.UserID, *body.Enabled)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "secondFactorEnabled": user.SecondFactorEnabled})
}

func (h *handlers) requestEmailOwnership(c *gin.Context) {
	var body userRequest
	if !bind(c, &body) {
		return
	}
	if _, err := h.engine.RequestEmailOwnership(c.Request.Context(), body.UserID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *handlers) verifyEmailLink(c *gin.Context) {
	user, err := h.engine.VerifyEmailOwnershipLink(c.Request.Context(), c.Query("token"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "email": user.Email})
}

func (h *handlers) verifyEmailCode(c *gin.Context) {
	var body userCodeRequest
	if !bind(c, &body) {
		return
	}
	user, err := h.engine.VerifyEmailOwnershipCode(c.Request.Context(), body.UserID, body.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
}

func (h *handlers) createSession(c *gin.Context) {
	var body sessionRequest
	if !bind(c, &body) {
		return
	}
	sess, err := h.engine.Login(c.Request.Context(), body.Email, body.Secret)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"accessToken": sess.AccessToken,
		"expiresAt":   sess.ExpiresAt.UTC().Format(time.RFC3339),
		"proof":       sess.Proof,
		"user":        sess.User,
	})
}

func (h *handlers) me(c *gin.Context) {
	user, ok := middleware.UserFrom(c)
	if !ok {
		h.fail(c, goVerify.ErrUnauthorized)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
}

// bind decodes and validates the JSON body against its binding tags. A
// malformed or invalid body is answered with 400; the engine still
// normalizes what passes.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, goVerify.ErrInvalidInput)
		return false
	}
	return true
}

func (h *handlers) fail(c *gin.Context, err error) {
	if goVerify.KindOf(err) == goVerify.KindInternal {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", goVerify.RequestIDFromContext(c.Request.Context())),
			zap.Error(err),
		)
	}
	_ = c.Error(err)
	writeError(c, err)
}

func writeError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(goVerify.HTTPStatus(err), gin.H{
		"error":  goVerify.PublicMessage(err),
		"reason": goVerify.KindOf(err).String(),
	})
}
