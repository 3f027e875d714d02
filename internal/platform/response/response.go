// Package response writes the service's JSON envelope.
package response

import (
	"net/http"

	"github.com/foodhub-delivery/service-routing/internal/platform/domain"
	"github.com/gin-gonic/gin"
)

// Envelope is the body of every API response.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Success writes a 200 with data.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Envelope{Success: true, Data: data})
}

// Created writes a 201 with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Envelope{Success: true, Data: data})
}

// Accepted writes a 202 with data.
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Envelope{Success: true, Data: data})
}

// BadRequest writes a 400 with the message.
func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Envelope{Success: false, Error: msg})
}

// Error maps domain errors to status codes. Anything unrecognized is a 500 with a generic message.
func Error(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"

	switch {
	case domain.IsValidation(err):
		status, msg = http.StatusBadRequest, err.Error()
	case domain.IsNotFound(err):
		status, msg = http.StatusNotFound, err.Error()
	case domain.IsInvalidState(err):
		status, msg = http.StatusConflict, err.Error()
	case domain.IsConflict(err):
		status, msg = http.StatusConflict, err.Error()
	default:
		_ = c.Error(err)
	}

	c.JSON(status, Envelope{Success: false, Error: msg})
}
