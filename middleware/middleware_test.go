package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(GatewayAuthMiddleware("gw-secret"))
	app.Get("/whoami", UserContextMiddleware(), func(c *fiber.Ctx) error {
		p := PrincipalFrom(c)
		if p.Service {
			return c.SendString("service:" + p.ID)
		}
		return c.SendString(p.ID)
	})
	return app
}

func call(t *testing.T, app *fiber.App, headers map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestGatewayAuth(t *testing.T) {
	app := newApp()

	code, _ := call(t, app, map[string]string{HeaderUserID: "p01"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = call(t, app, map[string]string{"Authorization": "Bearer nope", HeaderUserID: "p01"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := call(t, app, map[string]string{"Authorization": "Bearer gw-secret", HeaderUserID: "p01"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "p01", body)

	code, _ = call(t, app, map[string]string{"Authorization": "gw-secret", HeaderUserID: "p01"})
	assert.Equal(t, http.StatusOK, code)
}

func TestUserContext(t *testing.T) {
	app := newApp()
	auth := "Bearer gw-secret"

	code, _ := call(t, app, map[string]string{"Authorization": auth})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := call(t, app, map[string]string{"Authorization": auth, HeaderUserRoles: "player, service"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "service:system", body)

	code, body = call(t, app, map[string]string{"Authorization": auth, HeaderUserID: "ops-bot", HeaderUserRoles: "service"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "service:ops-bot", body)

	code, body = call(t, app, map[string]string{"Authorization": auth, HeaderUserID: " p07 ", HeaderUserRoles: "player"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "p07", body)
}
