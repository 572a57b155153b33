package handlers

import "github.com/gofiber/fiber/v2"

// Response is the envelope of every successful answer.
type Response struct {
	Status  string      `json:"status" example:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse is the body of every failed answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

func success(c *fiber.Ctx, status int, message string, data interface{}) error {
	return c.Status(status).JSON(Response{Status: "success", Message: message, Data: data})
}

func fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}
