package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "secret"

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()

	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func jwtEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(NewRequestIDMiddleware(), NewJWTMiddleware(secret))
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("userID"))
	})

	return r
}

func TestJWTMiddleware(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name     string
		prepare  func(r *http.Request)
		wantCode int
		wantBody string
	}{
		{
			name:     "missing token",
			prepare:  func(r *http.Request) {},
			wantCode: http.StatusUnauthorized,
			wantBody: "Authorization token missing",
		},
		{
			name: "user_id claim",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"user_id": "user-1", "exp": exp}))
			},
			wantCode: http.StatusOK,
			wantBody: "user-1",
		},
		{
			name: "subject fallback",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"sub": "user-2", "exp": exp}))
			},
			wantCode: http.StatusOK,
			wantBody: "user-2",
		},
		{
			name: "cookie",
			prepare: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: "auth_token", Value: sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"user_id": "user-3", "exp": exp})})
			},
			wantCode: http.StatusOK,
			wantBody: "user-3",
		},
		{
			name: "expired",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"user_id": "user-1", "exp": time.Now().Add(-time.Hour).Unix()}))
			},
			wantCode: http.StatusUnauthorized,
			wantBody: "expired",
		},
		{
			name: "no expiration",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"user_id": "user-1"}))
			},
			wantCode: http.StatusUnauthorized,
			wantBody: "Authorization token invalid",
		},
		{
			name: "wrong secret",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"user_id": "user-1", "exp": exp}))
			},
			wantCode: http.StatusUnauthorized,
			wantBody: "Authorization token invalid",
		},
		{
			name: "other algorithm",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+sign(t, jwt.SigningMethodHS512, []byte(secret), jwt.MapClaims{"user_id": "user-1", "exp": exp}))
			},
			wantCode: http.StatusUnauthorized,
			wantBody: "Authorization token invalid",
		},
		{
			name: "no user",
			prepare: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"exp": exp}))
			},
			wantCode: http.StatusUnauthorized,
			wantBody: "Authorization token invalid",
		},
	}

	r := jwtEngine()

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.prepare(req)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tc.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tc.wantBody)
			assert.Len(t, w.Header().Get(RequestIDHeader), 8)
		})
	}
}

func TestBodySizeLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.POST("/", BodySizeLimiter(10), func(c *gin.Context) {
		if _, err := c.GetRawData(); err != nil {
			c.AbortWithStatus(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small")))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 11))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "10 B")

	// Length unknown up front, cut off while reading
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 11)))
	req.ContentLength = -1

	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRateLimiterMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/", RateLimiterMiddleware(RateLimiterConfig{RequestsPerSecond: 1, Burst: 2}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Other clients have their own bucket
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
