package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"

	"tournament-orchestrator/services"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// ErrorHandler maps service error kinds onto HTTP status codes.
var ErrorHandler = func(c *fiber.Ctx, err error) error {
	code := StatusFor(err)
	if code >= fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("[HTTP] request failed")
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(code).JSON(ErrorResponse{Error: err.Error()})
}

func StatusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case eris.Is(err, services.ErrNotFound):
		return fiber.StatusNotFound
	case eris.Is(err, services.ErrInvalidState):
		return fiber.StatusConflict
	case eris.Is(err, services.ErrAuthorizationDenied):
		return fiber.StatusForbidden
	case eris.Is(err, services.ErrValidation),
		eris.Is(err, services.ErrInvalidToken),
		eris.Is(err, services.ErrTokenExpired):
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}
