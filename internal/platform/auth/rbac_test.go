package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestHasRole(t *testing.T) {
	tests := []struct {
		roles []string
		role  string
		want  bool
	}{
		{[]string{RoleDoctor}, RoleDoctor, true},
		{[]string{RolePatient}, RoleDoctor, false},
		{[]string{RoleAdmin}, RoleDoctor, true},
		{nil, RolePatient, false},
	}
	for _, tt := range tests {
		if got := HasRole(tt.roles, tt.role); got != tt.want {
			t.Errorf("HasRole(%v, %q) = %v, want %v", tt.roles, tt.role, got, tt.want)
		}
	}
}

func TestRequireRole_Allowed(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), "u1", RoleDoctor))
	c := e.NewContext(req, httptest.NewRecorder())

	if err := RequireRole(RoleDoctor)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireRole_Forbidden(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), "u1", RolePatient))
	c := e.NewContext(req, httptest.NewRecorder())

	err := RequireRole(RoleDoctor)(okHandler)(c)
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_AdminBypass(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), "u1", RoleAdmin))
	c := e.NewContext(req, httptest.NewRecorder())

	if err := RequireRole(RolePatient)(okHandler)(c); err != nil {
		t.Fatalf("admin should pass every role check: %v", err)
	}
}

func TestIsPublicPath(t *testing.T) {
	if !IsPublicPath("/health") {
		t.Error("/health should be public")
	}
	if IsPublicPath("/api/v1/instant/request") {
		t.Error("instant request must require auth")
	}
}
