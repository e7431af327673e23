package handlers

import (
	"net/http"
	"time"

	"referral-system/database"
	"referral-system/models"

	"github.com/gin-gonic/gin"
)

func HealthHandler(c *gin.Context) {
	dbStatus := "ok"
	if err := database.Pool.Ping(c.Request.Context()); err != nil {
		dbStatus = "unavailable"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"database": dbStatus,
		"time":     time.Now().Format(time.RFC3339),
	})
}

// GetProductsHandler – каталог продуктов (для витрины клиента)
func GetProductsHandler(c *gin.Context) {
	products, err := models.GetActiveProducts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load products"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}
