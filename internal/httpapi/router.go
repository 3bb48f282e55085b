package httpapi

import (
	"context"
	"net/http"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Engine is the subset of *goVerify.Engine the handlers call.
type Engine interface {
	RequestLoginOTP(ctx context.Context, email string) (time.Time, error)
	VerifyLoginOTP(ctx context.Context, email, code string) (goVerify.LoginOTPResult, error)
	RequestSecondFactor(ctx context.Context, userID string) (time.Time, error)
	VerifySecondFactor(ctx context.Context, userID, code string) (goVerify.User, error)
	SetSecondFactor(ctx context.Context, userID string, enabled bool) (goVerify.User, error)
	RequestEmailOwnership(ctx context.Context, userID string) (time.Time, error)
	VerifyEmailOwnershipLink(ctx context.Context, linkToken string) (goVerify.User, error)
	VerifyEmailOwnershipCode(ctx context.Context, userID, code string) (goVerify.User, error)
	Login(ctx context.Context, email, secret string) (goVerify.Session, error)
	ParseSession(token string) (goVerify.Principal, error)
	User(ctx context.Context, userID string) (goVerify.User, error)
}

// Options configures NewRouter.
type Options struct {
	Engine Engine
	Logger *zap.Logger
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	// TrustedProxies is passed to gin; nil trusts none.
	TrustedProxies []string
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(opts Options) (*gin.Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	if err := r.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, err
	}
	r.Use(
		gin.CustomRecovery(recovery(logger)),
		middleware.RequestID(),
		middleware.ClientIP(),
		middleware.AccessLog(logger.Named("http")),
		middleware.SecurityHeaders(),
	)

	h := &handlers{engine: opts.Engine, logger: logger}

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	auth := r.Group("/api/auth")
	{
		auth.POST("/otp", h.requestLoginOTP)
		auth.POST("/otp/verify", h.verifyLoginOTP)

		auth.POST("/2fa", h.requestSecondFactor)
		auth.POST("/2fa/verify", h.verifySecondFactor)
		auth.POST("/2fa/toggle", middleware.RequireSession(opts.Engine), h.toggleSecondFactor)

		auth.POST("/email", h.requestEmailOwnership)
		auth.GET("/email/verify", h.verifyEmailLink)
		auth.POST("/email/verify", h.verifyEmailCode)

		auth.POST("/session", h.createSession)
		auth.GET("/me", middleware.RequireStrict(opts.Engine), h.me)
	}

	return r, nil
}

func recovery(logger *zap.Logger) gin.RecoveryFunc {
	return func(c *gin.Context, rec any) {
		logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":  "internal error",
			"reason": goVerify.KindInternal.String(),
		})
	}
}
