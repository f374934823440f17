package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// envelope is the body shape shared by every JSON response under /api.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func failure(code, message string, details any) envelope {
	return envelope{
		Success: false,
		Message: message,
		Error:   message,
		Code:    code,
		Details: details,
	}
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data, Message: "Success"})
}

func respondCreated(c *gin.Context, data any, message string) {
	c.JSON(http.StatusCreated, envelope{Success: true, Data: data, Message: message})
}
