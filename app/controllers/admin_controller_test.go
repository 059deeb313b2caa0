package controllers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/promptmint/promptmint/app/models"
	"github.com/promptmint/promptmint/app/repository"
	"github.com/promptmint/promptmint/internal/pkg/cache"
)

func TestMain(m *testing.M) {
	// Cache access in these handlers is best-effort. Point the client at a
	// closed port so calls fail fast instead of waiting on a live server.
	cache.SetClient(goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
	}))
	os.Exit(m.Run())
}

type fakeUserRepo struct {
	mu    sync.Mutex
	seq   uint
	users map[uint]*models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[uint]*models.User{}}
}

func (r *fakeUserRepo) Create(user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email {
			return gorm.ErrDuplicatedKey
		}
	}
	r.seq++
	user.ID = r.seq
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *fakeUserRepo) GetByID(id uint) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *u
	return &clone, nil
}

func (r *fakeUserRepo) GetByEmail(email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) GetByAPIKeyHash(hash string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.APIKeyHash != "" && u.APIKeyHash == hash {
			clone := *u
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) TouchAPIKeyUsage(userID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		now := time.Now()
		u.APIKeyLastUsedAt = &now
	}
	return nil
}

func (r *fakeUserRepo) Update(user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *fakeUserRepo) Count() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.users)), nil
}

func withFakeRepo(t *testing.T) *fakeUserRepo {
	t.Helper()
	fake := newFakeUserRepo()
	orig := userRepo
	userRepo = func() repository.UserRepository { return fake }
	t.Cleanup(func() { userRepo = orig })
	return fake
}

func seedUser(t *testing.T, fake *fakeUserRepo, email, password string) (*models.User, string) {
	t.Helper()
	user, err := models.CreateUser("tester", email, password)
	require.NoError(t, err)
	user.Status = models.STATUS_ACTIVE
	key, err := user.GenerateAPIKey()
	require.NoError(t, err)
	require.NoError(t, fake.Create(user))
	return user, key
}

func newAdminTestApp() *fiber.App {
	app := fiber.New()
	app.Post("/admin/users", HandleAdminCreateUser)
	app.Post("/admin/users/:id/api-key", HandleAdminRotateAPIKey)
	app.Patch("/admin/users/:id/status", HandleAdminSetUserStatus)
	app.Put("/admin/users/:id/password", HandleAdminResetPassword)
	app.Get("/admin/stats", HandleAdminStats)
	return app
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}

func TestAdminCreateUserIssuesKey(t *testing.T) {
	fake := withFakeRepo(t)
	app := newAdminTestApp()

	resp, err := app.Test(jsonRequest(fiber.MethodPost, "/admin/users",
		`{"name":"alice","email":"alice@example.com","password":"secret123"}`), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	body := decodeBody(t, resp)
	key, _ := body["api_key"].(string)
	assert.True(t, strings.HasPrefix(key, "pm_"))

	stored, err := fake.GetByEmail("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.STATUS_ACTIVE, stored.Status)
	assert.Equal(t, models.HashAPIKey(key), stored.APIKeyHash)
	assert.NotEqual(t, "secret123", stored.Password)
	assert.True(t, stored.CheckPassword("secret123"))
}

func TestAdminCreateUserRejectsDuplicateEmail(t *testing.T) {
	fake := withFakeRepo(t)
	seedUser(t, fake, "alice@example.com", "secret123")
	app := newAdminTestApp()

	resp, err := app.Test(jsonRequest(fiber.MethodPost, "/admin/users",
		`{"name":"alice","email":"alice@example.com","password":"secret123"}`), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestAdminCreateUserRejectsInvalidInput(t *testing.T) {
	withFakeRepo(t)
	app := newAdminTestApp()

	resp, err := app.Test(jsonRequest(fiber.MethodPost, "/admin/users",
		`{"name":"alice","email":"not-an-email","password":"secret123"}`), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestAdminRotateAPIKeyReplacesHash(t *testing.T) {
	fake := withFakeRepo(t)
	user, oldKey := seedUser(t, fake, "alice@example.com", "secret123")
	app := newAdminTestApp()

	resp, err := app.Test(jsonRequest(fiber.MethodPost, "/admin/users/1/api-key", ""), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	newKey, _ := body["api_key"].(string)
	assert.True(t, strings.HasPrefix(newKey, "pm_"))
	assert.NotEqual(t, oldKey, newKey)

	stored, err := fake.GetByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HashAPIKey(newKey), stored.APIKeyHash)

	// Old key no longer resolves.
	_, err = fake.GetByAPIKeyHash(models.HashAPIKey(oldKey))
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestAdminRotateAPIKeyUnknownUser(t *testing.T) {
	withFakeRepo(t)
	app := newAdminTestApp()

	resp, err := app.Test(jsonRequest(fiber.MethodPost, "/admin/users/99/api-key", ""), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestAdminSetUserStatus(t *testing.T) {
	fake := withFakeRepo(t)
	user, _ := seedUser(t, fake, "alice@example.com", "secret123")
	app := newAdminTestApp()

	resp, err := app.Test(jsonRequest(fiber.MethodPatch, "/admin/users/1/status",
		`{"status":"disabled"}`), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	stored, err := fake.GetByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.STATUS_DISABLED, stored.Status)
	assert.False(t, stored.IsActive())

	resp, err = app.Test(jsonRequest(fiber.MethodPatch, "/admin/users/1/status",
		`{"status":"banned"}`), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestAdminResetPassword(t *testing.T) {
	fake := withFakeRepo(t)
	user, _ := seedUser(t, fake, "alice@example.com", "secret123")
	app := newAdminTestApp()

	resp, err := app.Test(jsonRequest(fiber.MethodPut, "/admin/users/1/password",
		`{"password":"changed456"}`), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	stored, err := fake.GetByID(user.ID)
	require.NoError(t, err)
	assert.False(t, stored.CheckPassword("secret123"))
	assert.True(t, stored.CheckPassword("changed456"))
}

func TestAdminStatsCountsUsers(t *testing.T) {
	fake := withFakeRepo(t)
	seedUser(t, fake, "alice@example.com", "secret123")
	seedUser(t, fake, "bob@example.com", "secret123")
	app := newAdminTestApp()

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/admin/stats", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, float64(2), body["users"])
}
