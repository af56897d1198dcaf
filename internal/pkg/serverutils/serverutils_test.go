package serverutils

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type turnBody struct {
	Query string `validate:"required,max=10"`
}

func get(t *testing.T, app *fiber.App, path string) (int, Response) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", path, nil))
	require.NoError(t, err)
	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestErrorHandlerMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(ErrorHandlerMiddleware())
	app.Get("/fiber", func(*fiber.Ctx) error { return fiber.NewError(fiber.StatusNotFound, "Session not found") })
	app.Get("/plain", func(*fiber.Ctx) error { return errors.New("db down") })
	app.Get("/invalid", func(*fiber.Ctx) error { return ValidateRequest(turnBody{}) })

	code, body := get(t, app, "/fiber")
	assert.Equal(t, fiber.StatusNotFound, code)
	assert.Equal(t, "Session not found", body.Message)
	assert.False(t, body.Success)

	code, body = get(t, app, "/plain")
	assert.Equal(t, fiber.StatusInternalServerError, code)
	assert.Equal(t, "Internal server error", body.Message)

	code, body = get(t, app, "/invalid")
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Equal(t, map[string]interface{}{"query": "is required"}, body.Data)
}

func TestValidateRequest(t *testing.T) {
	assert.NoError(t, ValidateRequest(turnBody{Query: "ok"}))

	err := ValidateRequest(turnBody{Query: "far too long"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "must be at most 10 characters", verr.Fields["query"])
}

func TestJwtMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(JwtMiddleware("secret"))
	app.Get("/", func(ctx *fiber.Ctx) error { return ctx.SendString(ctx.Locals("user_id").(string)) })

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "u1"}).SignedString([]byte("secret"))
	require.NoError(t, err)
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestJwtMiddleware_DisabledWithoutSecret(t *testing.T) {
	app := fiber.New()
	app.Use(JwtMiddleware(""))
	app.Get("/", func(ctx *fiber.Ctx) error { return ctx.SendStatus(fiber.StatusNoContent) })

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}
