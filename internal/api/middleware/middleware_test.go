package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wa-bot-go/internal/utils"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func whoami(c *gin.Context) {
	c.String(http.StatusOK, c.GetString(KeyStaffID)+"/"+c.GetString(KeyRole))
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	const secret = "s3cret"
	tok, err := utils.GenerateToken("staff-1", utils.RoleSeller, secret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	other, _ := utils.GenerateToken("staff-1", utils.RoleSeller, "other", time.Hour)

	tests := []struct {
		name   string
		secret string
		header string
		query  string
		code   int
		body   string
	}{
		{"open mode", "", "", "", http.StatusOK, "/admin"},
		{"bearer header", secret, "Bearer " + tok, "", http.StatusOK, "staff-1/seller"},
		{"query token", secret, "", "?token=" + tok, http.StatusOK, "staff-1/seller"},
		{"missing", secret, "", "", http.StatusUnauthorized, ""},
		{"wrong secret", secret, "Bearer " + other, "", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/me", AuthMiddleware(tt.secret), whoami)

			req := httptest.NewRequest(http.MethodGet, "/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(r, req)
			if w.Code != tt.code {
				t.Fatalf("code = %d, want %d", w.Code, tt.code)
			}
			if tt.body != "" && w.Body.String() != tt.body {
				t.Fatalf("body = %q, want %q", w.Body.String(), tt.body)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	for _, role := range []string{utils.RoleAdmin, utils.RoleSeller} {
		r := gin.New()
		r.GET("/x", func(c *gin.Context) { c.Set(KeyRole, role) }, RequireRole(utils.RoleAdmin), whoami)

		w := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
		want := http.StatusOK
		if role != utils.RoleAdmin {
			want = http.StatusForbidden
		}
		if w.Code != want {
			t.Errorf("role %s: code = %d, want %d", role, w.Code, want)
		}
	}
}

func TestAPIKeyRequired(t *testing.T) {
	r := gin.New()
	r.GET("/status", APIKeyRequired("key"), whoami)

	if w := serve(r, httptest.NewRequest(http.MethodGet, "/status", nil)); w.Code != http.StatusUnauthorized {
		t.Fatalf("no key = %d", w.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("x-api-key", "key")
	if w := serve(r, req); w.Code != http.StatusOK {
		t.Fatalf("header key = %d", w.Code)
	}
}

func TestCORSMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware([]string{"http://localhost:3000"}))
	r.GET("/x", whoami)

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := serve(r, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = serve(r, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin echoed: %q", got)
	}
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	if w := serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil)); w.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d, want 500", w.Code)
	}
}
