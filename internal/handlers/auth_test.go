package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mossy-p/video-rooms/internal/middleware"
)

const testSecret = "test-secret"

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/auth/login", Login(testSecret))
	r.GET("/api/whoami", middleware.JWTAuth(testSecret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString("user_id")})
	})
	return r
}

func login(t *testing.T, r *gin.Engine, username string) string {
	t.Helper()
	w := httptest.NewRecorder()
	body := `{"username":"` + username + `","password":"whatever"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", w.Code, w.Body.String())
	}
	var resp LoginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.UserID != username || resp.Token == "" {
		t.Fatalf("login response = %+v", resp)
	}
	return resp.Token
}

func whoami(t *testing.T, r *gin.Engine, authHeader string) (int, string) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	r.ServeHTTP(w, req)
	var body struct {
		UserID string `json:"user_id"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w.Code, body.UserID
}

func TestLoginTokenRoundTrip(t *testing.T) {
	r := newAuthRouter()
	token := login(t, r, "alice")

	code, userID := whoami(t, r, "Bearer "+token)
	if code != http.StatusOK || userID != "alice" {
		t.Fatalf("whoami = %d %q", code, userID)
	}
}

func TestJWTAuthRejectsBadHeaders(t *testing.T) {
	r := newAuthRouter()

	if code, _ := whoami(t, r, ""); code != http.StatusUnauthorized {
		t.Fatalf("missing header status = %d", code)
	}
	if code, _ := whoami(t, r, "Token abc"); code != http.StatusUnauthorized {
		t.Fatalf("non-bearer status = %d", code)
	}
	if code, _ := whoami(t, r, "Bearer not-a-token"); code != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d", code)
	}
}

func TestJWTAuthRejectsForeignIssuer(t *testing.T) {
	r := newAuthRouter()

	claims := middleware.JWTClaims{
		UserID: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if code, _ := whoami(t, r, "Bearer "+token); code != http.StatusUnauthorized {
		t.Fatalf("foreign issuer status = %d", code)
	}
}

func TestJWTAuthRejectsWrongSecret(t *testing.T) {
	r := newAuthRouter()

	claims := middleware.JWTClaims{
		UserID: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    middleware.TokenIssuer,
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if code, _ := whoami(t, r, "Bearer "+token); code != http.StatusUnauthorized {
		t.Fatalf("wrong secret status = %d", code)
	}
}
