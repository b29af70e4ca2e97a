package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"motoreg-bot/internal/logging"
	"motoreg-bot/internal/race"
)

// Error sends a standardized error response
func Error(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// Success sends a standardized success response
func Success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"data": data})
}

// ValidationError sends a response for validation errors
func ValidationError(c *gin.Context, errors map[string]string) {
	c.JSON(http.StatusBadRequest, gin.H{"errors": errors})
}

// respondError maps domain errors to status codes.
func respondError(c *gin.Context, err error) {
	var verr *race.ValidationError
	switch {
	case errors.As(err, &verr):
		ValidationError(c, verr.Fields)
	case errors.Is(err, race.ErrNotFound):
		Error(c, http.StatusNotFound, "no encontrado")
	case errors.Is(err, race.ErrNumberTaken):
		Error(c, http.StatusConflict, "el número de moto no está disponible")
	case errors.Is(err, race.ErrRegistrationClosed):
		Error(c, http.StatusForbidden, "las inscripciones están cerradas")
	default:
		logging.For("http").WithError(err).WithField("path", c.FullPath()).Error("request failed")
		Error(c, http.StatusInternalServerError, "error interno")
	}
}
