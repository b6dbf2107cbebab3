package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newAuthApp(secret string) *fiber.App {
	app := fiber.New()
	app.Use(NewAuthMiddleware(secret).RequireAuth)
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/v1/sessions", func(c *fiber.Ctx) error {
		return c.JSON([]string{})
	})
	return app
}

func TestGenerateAndValidateToken(t *testing.T) {
	token, err := GenerateToken(testSecret, "cli", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	am := NewAuthMiddleware(testSecret)
	claims, err := am.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "cli", claims.Source)
	assert.Greater(t, claims.ExpiresAt, time.Now().Unix())
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	token, err := GenerateToken(testSecret, "cli", -time.Minute)
	require.NoError(t, err)

	am := NewAuthMiddleware(testSecret)
	_, err = am.ValidateToken(token)
	assert.ErrorContains(t, err, "expired")
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	token, err := GenerateToken("other-secret", "cli", time.Hour)
	require.NoError(t, err)

	am := NewAuthMiddleware(testSecret)
	_, err = am.ValidateToken(token)
	assert.ErrorContains(t, err, "signature")
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	am := NewAuthMiddleware(testSecret)
	_, err := am.ValidateToken("not.a.token.at.all")
	assert.Error(t, err)
	_, err = am.ValidateToken("nodots")
	assert.Error(t, err)
}

func TestRequireAuthMissingToken(t *testing.T) {
	app := newAuthApp(testSecret)

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/sessions", nil))
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestRequireAuthBearerHeader(t *testing.T) {
	app := newAuthApp(testSecret)
	token, err := GenerateToken(testSecret, "cli", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestRequireAuthQueryToken(t *testing.T) {
	app := newAuthApp(testSecret)
	token, err := GenerateToken(testSecret, "browser", time.Hour)
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/sessions?token="+token, nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestRequireAuthSkipsHealth(t *testing.T) {
	app := newAuthApp(testSecret)

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestRequireAuthDisabledWithoutSecret(t *testing.T) {
	app := newAuthApp("")

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/sessions", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}
