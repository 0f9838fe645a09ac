package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/thumbgen/tracker/internal/model"
	"github.com/thumbgen/tracker/internal/service"
	"github.com/thumbgen/tracker/pkg/response"
)

// AuthHandler handles account registration and sign-in
type AuthHandler struct {
	users     *service.UserService
	validator *validator.Validate
}

func NewAuthHandler(users *service.UserService, v *validator.Validate) *AuthHandler {
	return &AuthHandler{
		users:     users,
		validator: v,
	}
}

// SignUp handles POST /api/users/sign-up
func (h *AuthHandler) SignUp(c *fiber.Ctx) error {
	var req model.SignUpRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.users.SignUp(c.UserContext(), &req)
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			return response.Conflict(c, "Email already registered")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, result)
}

// SignIn handles POST /api/users/sign-in
func (h *AuthHandler) SignIn(c *fiber.Ctx) error {
	var req model.SignInRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.users.SignIn(c.UserContext(), &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			return response.Unauthorized(c, "Invalid email or password")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
