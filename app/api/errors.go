package api

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

func ErrorHandler(c *fiber.Ctx, err error) error {
	var apiError Error
	if errors.As(err, &apiError) {
		logFailure(c, apiError)
		return c.Status(apiError.Code).JSON(apiError)
	}
	var valError ValidationError
	if errors.As(err, &valError) {
		return c.Status(valError.Status).JSON(valError)
	}

	code := fiber.StatusInternalServerError
	var fiberError *fiber.Error
	if errors.As(err, &fiberError) {
		code = fiberError.Code
	}
	apiError = NewError(code, err.Error())
	logFailure(c, apiError)
	return c.Status(apiError.Code).JSON(apiError)
}

func logFailure(c *fiber.Ctx, e Error) {
	level := slog.LevelWarn
	if e.Code >= fiber.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(c.UserContext(), level, "request failed", "method", c.Method(), "path", c.Path(), "code", e.Code, "error", e.Message)
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: fiber.StatusBadRequest,
		Errors: errors,
	}
}

// Error implements the Error interface
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid JSON request",
	}
}

func ErrInvalidPath(path string) Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: fmt.Sprintf("Document path '%s' does not exist or is not a directory.", path),
	}
}

func ErrDeleteNotConfirmed(index string) Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: fmt.Sprintf("Deletion not confirmed. Add '?confirm=true' to the URL to delete index '%s'. This action is irreversible.", index),
	}
}

func ErrUnavailable(err error) Error {
	return Error{
		Code:    fiber.StatusServiceUnavailable,
		Message: fmt.Sprintf("RAG pipeline not initialized: %v", err),
	}
}

func ErrInternal(action string, err error) Error {
	return Error{
		Code:    fiber.StatusInternalServerError,
		Message: fmt.Sprintf("Failed to %s: %v", action, err),
	}
}
