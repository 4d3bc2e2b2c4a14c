package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"msgarchive/internal/auth"
	"msgarchive/internal/service/archive"
)

// respond writes a success envelope: {"ok": true, ...payload}.
func respond(c *gin.Context, status int, payload gin.H) {
	body := gin.H{"ok": true}
	for k, v := range payload {
		body[k] = v
	}
	c.JSON(status, body)
}

// fail writes a failure envelope: {"ok": false, "error": code, "message": msg}.
func fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"ok":      false,
		"error":   code,
		"message": message,
	})
}

func badBody(c *gin.Context) {
	fail(c, http.StatusBadRequest, "invalid_request_body", "Request body must be valid JSON")
}

// failWith maps a service error onto the envelope. fallback is the message
// shown for unexpected errors, which are logged instead of exposed.
func failWith(c *gin.Context, err error, fallback string) {
	var verr *archive.ValidationError
	switch {
	case errors.As(err, &verr):
		fail(c, http.StatusBadRequest, verr.Code, verr.Message)
	case errors.Is(err, archive.ErrNotFound):
		fail(c, http.StatusNotFound, "not_found", "Message not found")
	case errors.Is(err, auth.ErrNotConfigured):
		slog.Error("login attempted without configured credentials")
		fail(c, http.StatusInternalServerError, "server_configuration_error", "Server is not configured properly")
	case errors.Is(err, auth.ErrCredentialsRequired):
		fail(c, http.StatusBadRequest, "credentials_required", "Email and password (or PIN) are required")
	case errors.Is(err, auth.ErrInvalidCredentials):
		fail(c, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
	default:
		slog.Error(fallback, "err", err, "path", c.FullPath())
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, "server_error", fallback)
	}
}

// optionalString tells an absent JSON field from an explicit null.
type optionalString struct {
	Set   bool
	Value *string
}

func (o *optionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	o.Value = &s
	return nil
}

// bindJSON decodes the request body into v and writes the envelope error on
// failure.
func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		badBody(c)
		return false
	}
	return true
}
