package middleware

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"keycabinet/internal/adapters/persistence/models"
	"keycabinet/internal/pkg/jwt"
	"keycabinet/internal/pkg/password"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	testKioskCode   = "KIOSK-A"
	testKioskSecret = "0123456789abcdef-secret"
	testJWTSecret   = "test-jwt-secret"
)

type fakeKiosks struct {
	kiosk *models.Kiosk
	err   error
	calls int
}

func (f *fakeKiosks) GetByCode(_ context.Context, code string) (*models.Kiosk, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.kiosk == nil || f.kiosk.Code != code {
		return nil, nil
	}
	return f.kiosk, nil
}

func newFakeKiosks(t *testing.T) *fakeKiosks {
	t.Helper()
	hash, err := password.HashWithCost(testKioskSecret, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashWithCost failed: %v", err)
	}
	return &fakeKiosks{kiosk: &models.Kiosk{ID: 3, Code: testKioskCode, SecretHash: hash, IsActive: true}}
}

func kioskApp(kiosks KioskLookup) *fiber.App {
	app := fiber.New()
	app.Get("/kiosk", KioskAuth(kiosks), func(c *fiber.Ctx) error {
		id, _ := c.Locals("kioskID").(uint)
		if id == 0 {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func TestKioskAuth(t *testing.T) {
	tests := []struct {
		name   string
		code   string
		secret string
		want   int
	}{
		{"missing headers", "", "", fiber.StatusUnauthorized},
		{"missing secret", testKioskCode, "", fiber.StatusUnauthorized},
		{"unknown kiosk", "KIOSK-Z", testKioskSecret, fiber.StatusUnauthorized},
		{"wrong secret", testKioskCode, "wrong-secret-wrong-secret", fiber.StatusUnauthorized},
		{"valid", testKioskCode, testKioskSecret, fiber.StatusOK},
	}

	app := kioskApp(newFakeKiosks(t))
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/kiosk", nil)
		if tt.code != "" {
			req.Header.Set(HeaderKioskCode, tt.code)
		}
		if tt.secret != "" {
			req.Header.Set(HeaderKioskSecret, tt.secret)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("%s: request failed: %v", tt.name, err)
		}
		if resp.StatusCode != tt.want {
			t.Fatalf("%s: status = %d, want %d", tt.name, resp.StatusCode, tt.want)
		}
	}
}

func TestKioskAuthCachesVerifiedSecret(t *testing.T) {
	kiosks := newFakeKiosks(t)
	app := kioskApp(kiosks)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/kiosk", nil)
		req.Header.Set(HeaderKioskCode, testKioskCode)
		req.Header.Set(HeaderKioskSecret, testKioskSecret)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	}
	if kiosks.calls != 1 {
		t.Fatalf("lookup calls = %d, want 1", kiosks.calls)
	}
}

func TestKioskAuthLookupFailure(t *testing.T) {
	app := kioskApp(&fakeKiosks{err: errors.New("db down")})

	req := httptest.NewRequest("GET", "/kiosk", nil)
	req.Header.Set(HeaderKioskCode, testKioskCode)
	req.Header.Set(HeaderKioskSecret, testKioskSecret)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestStaffAuth(t *testing.T) {
	app := fiber.New()
	ok := func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) }
	app.Get("/staff", AuthMiddleware(testJWTSecret), StaffOrAdmin(), ok)
	app.Get("/admin", AuthMiddleware(testJWTSecret), AdminOnly(), ok)

	staffToken, err := jwt.GenerateAccessToken(2, "STAFF01", "STAFF", testJWTSecret, 5)
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}
	teacherToken, err := jwt.GenerateAccessToken(3, "T0001", "TEACHER", testJWTSecret, 5)
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	tests := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"no token", "/staff", "", fiber.StatusUnauthorized},
		{"garbage token", "/staff", "abc", fiber.StatusUnauthorized},
		{"staff on staff route", "/staff", staffToken, fiber.StatusOK},
		{"teacher on staff route", "/staff", teacherToken, fiber.StatusForbidden},
		{"staff on admin route", "/admin", staffToken, fiber.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", tt.path, nil)
		if tt.token != "" {
			req.Header.Set("Authorization", "Bearer "+tt.token)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("%s: request failed: %v", tt.name, err)
		}
		if resp.StatusCode != tt.want {
			t.Fatalf("%s: status = %d, want %d", tt.name, resp.StatusCode, tt.want)
		}
	}
}

func TestRequestID(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("requestID").(string))
	})

	given := uuid.NewString()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(fiber.HeaderXRequestID, given)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if got := resp.Header.Get(fiber.HeaderXRequestID); got != given {
		t.Fatalf("request id = %q, want %q", got, given)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(fiber.HeaderXRequestID, "not-a-uuid")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if _, err := uuid.Parse(resp.Header.Get(fiber.HeaderXRequestID)); err != nil {
		t.Fatalf("expected a generated uuid, got %q", resp.Header.Get(fiber.HeaderXRequestID))
	}
}
