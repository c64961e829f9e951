package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"chatroom/internal/session"
	"chatroom/internal/store"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
	}{
		{"valid password", "password123"},
		{"empty password", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			if err != nil {
				t.Fatalf("HashPassword() error = %v", err)
			}
			if hash == "" {
				t.Error("HashPassword() returned empty hash")
			}
		})
	}
}

func TestHashPassword_DifferentHashes(t *testing.T) {
	password := "testpassword"
	hash1, _ := HashPassword(password)
	hash2, _ := HashPassword(password)

	if hash1 == hash2 {
		t.Error("HashPassword() should produce different hashes for same password")
	}
}

func TestVerifyPassword(t *testing.T) {
	password := "testpassword123"
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	tests := []struct {
		name     string
		hash     string
		password string
		want     bool
	}{
		{"correct password", hash, password, true},
		{"wrong password", hash, "wrongpassword", false},
		{"empty password", hash, "", false},
		{"invalid hash", "invalidhash", password, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyPassword(tt.hash, tt.password); got != tt.want {
				t.Errorf("VerifyPassword() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerateToken_ParseToken(t *testing.T) {
	token, err := GenerateToken("u1", "a@x.com", "user", "secret", 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("GenerateToken() returned empty token")
	}

	claims, err := ParseToken(token, "secret")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.ID != "u1" || claims.Email != "a@x.com" || claims.Role != "user" {
		t.Errorf("ParseToken() claims = %+v, want ID=u1 Email=a@x.com Role=user", claims)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, err := GenerateToken("u1", "a@x.com", "user", "secret", 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if _, err := ParseToken(token, "wrong-secret"); err == nil {
		t.Error("ParseToken() with wrong secret should error")
	}
}

func TestParseToken_Expired(t *testing.T) {
	token, err := GenerateToken("u1", "a@x.com", "user", "secret", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if _, err := ParseToken(token, "secret"); err == nil {
		t.Error("ParseToken() should reject an expired token")
	}
}

func TestParseToken_Malformed(t *testing.T) {
	if _, err := ParseToken("not.a.token", "secret"); err == nil {
		t.Error("ParseToken() should reject a malformed token")
	}
}

type alwaysActive struct{ active bool }

func (a alwaysActive) IsActive(ctx context.Context, userID string) (bool, error) {
	return a.active, nil
}

func newTestSessions(t *testing.T) *session.Service {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() failed: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return session.New(store.NewFromClient(client))
}

func setupRouter(secret string, sessions *session.Service, users UserActive) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", Middleware(secret, sessions, users), func(c *gin.Context) {
		p, err := PrincipalFrom(c)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": p.ID})
	})
	return r
}

func TestMiddleware_NoToken(t *testing.T) {
	r := setupRouter("secret", newTestSessions(t), alwaysActive{active: true})
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestMiddleware_ValidToken(t *testing.T) {
	sessions := newTestSessions(t)
	token, err := GenerateToken("u1", "a@x.com", "user", "secret", 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	r := setupRouter("secret", sessions, alwaysActive{active: true})
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}

func TestMiddleware_BlacklistedToken(t *testing.T) {
	sessions := newTestSessions(t)
	token, err := GenerateToken("u1", "a@x.com", "user", "secret", 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if err := sessions.Blacklist(context.Background(), token); err != nil {
		t.Fatalf("Blacklist() error = %v", err)
	}

	r := setupRouter("secret", sessions, alwaysActive{active: true})
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for blacklisted token", w.Code)
	}
}

func TestMiddleware_InactiveUser(t *testing.T) {
	sessions := newTestSessions(t)
	token, err := GenerateToken("u1", "a@x.com", "user", "secret", 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	r := setupRouter("secret", sessions, alwaysActive{active: false})
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for inactive user", w.Code)
	}
}

func TestMiddleware_TokenViaQueryParam(t *testing.T) {
	sessions := newTestSessions(t)
	token, err := GenerateToken("u1", "a@x.com", "user", "secret", 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	r := setupRouter("secret", sessions, alwaysActive{active: true})
	req := httptest.NewRequest(http.MethodGet, "/protected?token="+token, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for token via query param", w.Code)
	}
}
