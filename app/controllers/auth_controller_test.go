package controllers

import (
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptmint/promptmint/app/models"
)

func newAuthTestApp() *fiber.App {
	app := fiber.New()
	app.Post("/auth/api-key", HandleIssueAPIKey)
	return app
}

func TestIssueAPIKeyWithCredentials(t *testing.T) {
	fake := withFakeRepo(t)
	user, oldKey := seedUser(t, fake, "alice@example.com", "secret123")
	app := newAuthTestApp()

	resp, err := app.Test(jsonRequest(fiber.MethodPost, "/auth/api-key",
		`{"email":"alice@example.com","password":"secret123"}`), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	newKey, _ := body["api_key"].(string)
	assert.True(t, strings.HasPrefix(newKey, "pm_"))
	assert.NotEqual(t, oldKey, newKey)

	stored, err := fake.GetByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HashAPIKey(newKey), stored.APIKeyHash)
}

func TestIssueAPIKeyRejectsBadPassword(t *testing.T) {
	fake := withFakeRepo(t)
	seedUser(t, fake, "alice@example.com", "secret123")
	app := newAuthTestApp()

	resp, err := app.Test(jsonRequest(fiber.MethodPost, "/auth/api-key",
		`{"email":"alice@example.com","password":"wrong"}`), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	// Unknown accounts get the same answer as a wrong password.
	resp, err = app.Test(jsonRequest(fiber.MethodPost, "/auth/api-key",
		`{"email":"nobody@example.com","password":"secret123"}`), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestIssueAPIKeyRejectsInactiveUser(t *testing.T) {
	fake := withFakeRepo(t)
	user, _ := seedUser(t, fake, "alice@example.com", "secret123")
	user.Status = models.STATUS_DISABLED
	require.NoError(t, fake.Update(user))
	app := newAuthTestApp()

	resp, err := app.Test(jsonRequest(fiber.MethodPost, "/auth/api-key",
		`{"email":"alice@example.com","password":"secret123"}`), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}
