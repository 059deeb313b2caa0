package controllers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/promptmint/promptmint/app/models"
	"github.com/promptmint/promptmint/app/repository"
	"github.com/promptmint/promptmint/internal/pkg/middleware"
)

// userRepo resolves the user repository per request. Tests replace it with
// an in-memory fake.
var userRepo = func() repository.UserRepository {
	return repository.GetGlobalFactory().GetUserRepository()
}

type adminCreateUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type adminSetStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active inactive disabled"`
}

type adminResetPasswordRequest struct {
	Password string `json:"password" validate:"required,min=6"`
}

// HandleAdminCreateUser provisions a platform account and issues its first
// API key. The plaintext key appears only in this response; only its hash
// is stored.
func HandleAdminCreateUser(c *fiber.Ctx) error {
	var req adminCreateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "Malformed JSON body"})
	}

	repo := userRepo()
	if _, err := repo.GetByEmail(req.Email); err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "email_taken"})
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("admin create user: email lookup failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	user, err := models.CreateUser(req.Name, req.Email, req.Password)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": err.Error()})
	}
	// Admin-provisioned accounts skip the activation step.
	user.Status = models.STATUS_ACTIVE

	apiKey, err := user.GenerateAPIKey()
	if err != nil {
		log.Printf("admin create user: api key generation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	if err := repo.Create(user); err != nil {
		log.Printf("admin create user: insert failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"user_id": user.ID,
		"email":   user.Email,
		"status":  user.Status,
		"api_key": apiKey,
	})
}

// HandleAdminRotateAPIKey replaces a user's API key. The old key stops
// authenticating immediately, including for cached lookups.
func HandleAdminRotateAPIKey(c *fiber.Ctx) error {
	user, done := adminLoadUser(c)
	if done {
		return nil
	}

	oldHash := user.APIKeyHash
	apiKey, err := user.GenerateAPIKey()
	if err != nil {
		log.Printf("admin rotate key: generation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	if err := userRepo().Update(user); err != nil {
		log.Printf("admin rotate key: update failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	middleware.DropCachedUser(oldHash)

	return c.JSON(fiber.Map{
		"success": true,
		"user_id": user.ID,
		"api_key": apiKey,
	})
}

// HandleAdminSetUserStatus activates or disables an account. A disabled
// account keeps its balance but every authenticated route rejects it.
func HandleAdminSetUserStatus(c *fiber.Ctx) error {
	var req adminSetStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "Malformed JSON body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": err.Error()})
	}

	user, done := adminLoadUser(c)
	if done {
		return nil
	}

	user.Status = req.Status
	if err := userRepo().Update(user); err != nil {
		log.Printf("admin set status: update failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	middleware.DropCachedUser(user.APIKeyHash)

	return c.JSON(fiber.Map{
		"success": true,
		"user_id": user.ID,
		"status":  user.Status,
	})
}

// HandleAdminResetPassword sets a new password for an account.
func HandleAdminResetPassword(c *fiber.Ctx) error {
	var req adminResetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "Malformed JSON body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": err.Error()})
	}

	user, done := adminLoadUser(c)
	if done {
		return nil
	}

	if err := user.SetPassword(req.Password); err != nil {
		log.Printf("admin reset password: hashing failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	if err := userRepo().Update(user); err != nil {
		log.Printf("admin reset password: update failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"user_id": user.ID,
	})
}

// HandleAdminStats reports operator-facing totals.
func HandleAdminStats(c *fiber.Ctx) error {
	count, err := userRepo().Count()
	if err != nil {
		log.Printf("admin stats: user count failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"users":   count,
	})
}

// adminLoadUser resolves the :id path parameter. done=true means a response
// was already written.
func adminLoadUser(c *fiber.Ctx) (*models.User, bool) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": "Invalid user id"})
		return nil, true
	}

	user, err := userRepo().GetByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			_ = c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user_not_found"})
			return nil, true
		}
		log.Printf("admin user lookup failed: %v", err)
		_ = c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
		return nil, true
	}
	return user, false
}
