package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/patrickamowe/image-processing-service/internal/apperr"
)

func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return apperr.StatusCode(err)
}

func messageFor(err error, status int) string {
	switch status {
	case http.StatusRequestEntityTooLarge, http.StatusGatewayTimeout:
		return http.StatusText(status)
	}
	return apperr.PublicMessage(err)
}

// respondError writes {"error": message} and aborts the chain. Server-side
// failures are logged with their cause; the client gets the status text.
func (s *Server) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	event := s.logger.Debug()
	if status >= http.StatusInternalServerError {
		event = s.logger.Error()
	}
	event.Err(err).
		Int("status", status).
		Str("kind", string(apperr.KindOf(err))).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Msg("request failed")

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": messageFor(err, status)})
}

func (s *Server) handlePanics(c *gin.Context, recovered any) {
	s.logger.Error().
		Interface("panic", recovered).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Msg("handler panicked")
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": http.StatusText(http.StatusInternalServerError)})
}
