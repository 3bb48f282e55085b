package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeEngine struct {
	users   map[string]goVerify.User
	userErr error
}

func (f *fakeEngine) ParseSession(token string) (goVerify.Principal, error) {
	if token != "good" {
		return goVerify.Principal{}, goVerify.ErrUnauthorized
	}
	return goVerify.Principal{UserID: "u1", Email: "ada@shop.example", Proof: "password", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeEngine) User(_ context.Context, id string) (goVerify.User, error) {
	if f.userErr != nil {
		return goVerify.User{}, f.userErr
	}
	u, ok := f.users[id]
	if !ok {
		return goVerify.User{}, goVerify.ErrUserNotFound
	}
	return u, nil
}

func serve(t *testing.T, r *gin.Engine, auth string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireSession(t *testing.T) {
	r := gin.New()
	r.GET("/me", RequireSession(&fakeEngine{}), func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			t.Fatal("expected principal in context")
		}
		c.String(http.StatusOK, p.UserID)
	})

	tests := []struct {
		name   string
		auth   string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic good", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"invalid token", "Bearer bad", http.StatusUnauthorized},
		{"valid token", "Bearer good", http.StatusOK},
		{"lowercase scheme", "bearer good", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, r, tt.auth)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
		})
	}
}

func TestRequireSessionNilParser(t *testing.T) {
	r := gin.New()
	r.GET("/me", RequireSession(nil), func(c *gin.Context) { c.Status(http.StatusOK) })

	if w := serve(t, r, "Bearer good"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestOptionalSession(t *testing.T) {
	r := gin.New()
	r.GET("/me", OptionalSession(&fakeEngine{}), func(c *gin.Context) {
		if _, ok := PrincipalFrom(c); ok {
			c.String(http.StatusOK, "member")
			return
		}
		c.String(http.StatusOK, "guest")
	})

	if w := serve(t, r, ""); w.Body.String() != "guest" {
		t.Fatalf("expected guest, got %q", w.Body.String())
	}
	if w := serve(t, r, "Bearer bad"); w.Body.String() != "guest" {
		t.Fatalf("expected guest for invalid token, got %q", w.Body.String())
	}
	if w := serve(t, r, "Bearer good"); w.Body.String() != "member" {
		t.Fatalf("expected member, got %q", w.Body.String())
	}
}

func TestRequireStrict(t *testing.T) {
	engine := &fakeEngine{users: map[string]goVerify.User{"u1": {ID: "u1", Email: "ada@shop.example"}}}
	r := gin.New()
	r.GET("/me", RequireStrict(engine), func(c *gin.Context) {
		u, ok := UserFrom(c)
		if !ok {
			t.Fatal("expected user in context")
		}
		c.String(http.StatusOK, u.Email)
	})

	if w := serve(t, r, "Bearer good"); w.Code != http.StatusOK || w.Body.String() != "ada@shop.example" {
		t.Fatalf("unexpected response %d %q", w.Code, w.Body.String())
	}

	delete(engine.users, "u1")
	if w := serve(t, r, "Bearer good"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for deleted user, got %d", w.Code)
	}

	engine.userErr = errors.Join(goVerify.ErrStoreUnavailable, errors.New("connection refused"))
	w := serve(t, r, "Bearer good")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for store failure, got %d", w.Code)
	}
}

func TestRequestIDPropagates(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), ClientIP())
	r.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, goVerify.RequestIDFromContext(c.Request.Context()))
	})

	w := serve(t, r, "")
	id := w.Header().Get(RequestIDHeader)
	if id == "" || w.Body.String() != id {
		t.Fatalf("expected generated request id on header and context, got header=%q body=%q", id, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Body.String() != "abc-123" {
		t.Fatalf("expected caller request id reused, got %q", w.Body.String())
	}
}

func TestAccessLogLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := gin.New()
	r.Use(RequestID(), AccessLog(zap.New(core)), SecurityHeaders())
	r.GET("/me", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	w := serve(t, r, "")
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected security headers")
	}
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 access log entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[1].Level != zapcore.ErrorLevel {
		t.Fatalf("unexpected levels %v %v", entries[0].Level, entries[1].Level)
	}
	if entries[0].ContextMap()["path"] != "/me" {
		t.Fatalf("expected route path, got %v", entries[0].ContextMap()["path"])
	}
	if entries[0].ContextMap()["request_id"] == "" {
		t.Fatal("expected request id field")
	}
}
