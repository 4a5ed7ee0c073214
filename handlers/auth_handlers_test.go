package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"maison/api/middleware"
	"maison/api/models"
	"maison/api/store"
	"maison/api/utils"

	"github.com/gin-gonic/gin"
)

type memoryUsers struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func (m *memoryUsers) CreateUser(_ context.Context, name, email, role string, hashed []byte) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(email)
	if _, ok := m.users[key]; ok {
		return nil, store.ErrUserExists
	}
	u := &models.User{ID: len(m.users) + 1, Name: name, Email: email, Role: role, HashedPassword: hashed, CreatedAt: time.Now()}
	m.users[key] = u
	return u, nil
}

func (m *memoryUsers) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[strings.ToLower(email)]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return u, nil
}

func newAuthTestRouter(secret []byte) *gin.Engine {
	h := NewAuthHandlers(&memoryUsers{users: map[string]*models.User{}}, secret)
	cfg := middleware.AuthConfig{JWTSecret: secret}

	r := gin.New()
	r.POST("/signup", h.Signup)
	r.POST("/login", h.Login)
	r.POST("/logout", h.Logout)
	r.GET("/profile", middleware.AuthRequired(cfg), h.Profile)
	return r
}

func TestAuthHandlers_SignupLoginProfile(t *testing.T) {
	secret := []byte("test-secret")
	r := newAuthTestRouter(secret)

	signup := `{"name":"Layla","email":"layla@maison.example","password":"s3cret-pass"}`
	if w := do(r, http.MethodPost, "/signup", signup); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPost, "/signup", signup); w.Code != http.StatusConflict {
		t.Fatalf("expected duplicate signup 409, got %d", w.Code)
	}

	if w := do(r, http.MethodPost, "/login", `{"email":"layla@maison.example","password":"wrong-pass"}`); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/login", `{"email":"nobody@maison.example","password":"whatever"}`); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for unknown user, got %d", w.Code)
	}

	w := do(r, http.MethodPost, "/login", `{"email":"Layla@Maison.example","password":"s3cret-pass"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var login struct {
		Token string `json:"token"`
	}
	json.Unmarshal(w.Body.Bytes(), &login)
	claims, err := utils.ValidateJWT(login.Token, secret)
	if err != nil {
		t.Fatalf("issued token invalid: %v", err)
	}
	if claims.Role != models.RoleViewer || claims.Email != "layla@maison.example" {
		t.Errorf("unexpected claims %+v", claims)
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "jwt_token" {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly {
		t.Fatalf("expected HttpOnly jwt_token cookie, got %+v", cookie)
	}

	req := httptest.NewRequest(http.MethodGet, "/profile", nil)
	req.AddCookie(cookie)
	pw := httptest.NewRecorder()
	r.ServeHTTP(pw, req)
	if pw.Code != http.StatusOK || !strings.Contains(pw.Body.String(), `"role":"viewer"`) {
		t.Errorf("unexpected profile response %d %s", pw.Code, pw.Body.String())
	}
}

func TestAuthHandlers_LoginWithoutSecret(t *testing.T) {
	r := newAuthTestRouter(nil)
	if w := do(r, http.MethodPost, "/login", `{"email":"a@maison.example","password":"whatever"}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestAuthHandlers_SignupValidation(t *testing.T) {
	r := newAuthTestRouter([]byte("s"))
	if w := do(r, http.MethodPost, "/signup", `{"name":"x","email":"not-an-email","password":"long-enough"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/signup", `{"name":"x","email":"x@maison.example","password":"short"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for short password, got %d", w.Code)
	}
}
