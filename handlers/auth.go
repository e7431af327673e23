package handlers

import (
	"log"
	"net/http"
	"strings"

	"referral-system/auth"
	"referral-system/database"
	"referral-system/models"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// LoginHandler обрабатывает вход пользователя
func LoginHandler(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Получаем пользователя из БД
	var user models.User
	var passwordHash string
	err := database.Pool.QueryRow(c.Request.Context(),
		"SELECT id, email, password_hash, name, role FROM users WHERE email = $1",
		req.Email).Scan(&user.ID, &user.Email, &passwordHash, &user.Name, &user.Role)

	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	// Проверяем пароль
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	// Генерируем JWT токены
	accessToken, refreshToken, err := auth.GenerateTokenPair(cfg, user.ID, user.Email, user.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate tokens"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"user": gin.H{
			"id":    user.ID,
			"email": user.Email,
			"name":  user.Name,
			"role":  user.Role,
		},
	})
}

// RegisterHandler обрабатывает регистрацию. Если передан валидный
// реферальный код – создаётся pending-запись реферала. Каждый новый
// пользователь получает счёт реферальной программы со своим кодом
func RegisterHandler(c *gin.Context) {
	var req struct {
		Email        string `json:"email" binding:"required,email"`
		Password     string `json:"password" binding:"required,min=6"`
		Name         string `json:"name" binding:"required"`
		ReferralCode string `json:"referral_code"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Проверяем, не занят ли email
	var exists bool
	err := database.Pool.QueryRow(c.Request.Context(),
		"SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)", req.Email).Scan(&exists)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if exists {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email already registered"})
		return
	}

	// Валидируем реферальный код ДО создания пользователя – по невалидному
	// коду регистрацию не отклоняем, просто не создаём реферала
	referralCode := strings.TrimSpace(strings.ToUpper(req.ReferralCode))
	codeValid := false
	if referralCode != "" {
		codeValid, err = models.CodeExists(c.Request.Context(), referralCode)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
			return
		}
		if !codeValid {
			log.Printf("⚠️ Регистрация с несуществующим кодом %q, реферал не создан", referralCode)
		}
	}

	user, err := models.CreateUser(req.Email, req.Password, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	// Счёт реферальной программы с собственным кодом
	account, err := models.CreateLedgerAccount(user.ID, user.Email, cfg.PayoutPerReferral)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create ledger account"})
		return
	}

	if codeValid {
		if err := models.CreateReferral(user.ID, referralCode); err != nil {
			// пользователь уже создан – регистрацию не валим, но след оставляем
			log.Printf("❌ Не удалось создать реферала для %s: %v", user.ID, err)
		}
	}

	accessToken, refreshToken, err := auth.GenerateTokenPair(cfg, user.ID, user.Email, user.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate tokens"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":       true,
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"user": gin.H{
			"id":    user.ID,
			"email": user.Email,
			"name":  user.Name,
			"role":  user.Role,
		},
		"referral_code": account.Code,
	})
}

// RefreshHandler выдаёт новую пару токенов по refresh-токену
func RefreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	accessToken, refreshToken, err := auth.RefreshTokens(cfg, req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	})
}
