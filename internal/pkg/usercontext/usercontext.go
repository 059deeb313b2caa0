// Package usercontext carries the authenticated user through fiber locals.
package usercontext

import "github.com/gofiber/fiber/v2"

const (
	KeyUserContext = "USER_CONTEXT"
	KeyUserID      = "USER_ID"
	KeyUsername    = "USER_NAME"
	KeyIsAdmin     = "USER_IS_ADMIN"
)

// UserContext is the per-request view of the authenticated caller.
type UserContext struct {
	UserID     uint
	Username   string
	IsLoggedIn bool
	IsAdmin    bool
}

// Get returns the request's user context, zero-valued for anonymous calls.
func Get(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(KeyUserContext).(UserContext); ok {
		return ctx
	}
	return UserContext{}
}

// Set stores the user context on the request.
func Set(c *fiber.Ctx, ctx UserContext) {
	c.Locals(KeyUserContext, ctx)
	c.Locals(KeyUserID, ctx.UserID)
	c.Locals(KeyUsername, ctx.Username)
	c.Locals(KeyIsAdmin, ctx.IsAdmin)
}
