package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/taskhive/taskhive/internal/database"
	appErrors "github.com/taskhive/taskhive/pkg/errors"
	"github.com/taskhive/taskhive/pkg/response"
)

// Health returns a simple status payload useful for readiness checks.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := database.Ping(db); err != nil {
			response.Error(c, appErrors.New("SERVICE_UNAVAILABLE", "Database unavailable", http.StatusServiceUnavailable).WithInternal(err))
			return
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}
