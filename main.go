package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"referral-system/alerts"
	"referral-system/config"
	"referral-system/database"
	"referral-system/handlers"
	"referral-system/integrations/payout"
	"referral-system/logging"
	"referral-system/middleware"
	"referral-system/settlement"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ .env file not found, using system environment")
	} else {
		fmt.Println("✅ .env file loaded and applied")
	}
	cfg := config.Load()

	if err := logging.InitLogger(cfg.Env == "release"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логгера: %v", err)
	}
	defer logging.Logger.Sync()

	if err := database.InitDB(cfg); err != nil {
		log.Fatalf("❌ Ошибка подключения к БД: %v", err)
	}
	defer database.CloseDB()

	// Движок выплат: хранилище поверх БД, клиент провайдера, алерты
	provider := payout.NewClient(cfg.PayoutProviderURL, cfg.PayoutProviderAPIKey)
	opsAlerts := alerts.NewOpsAlerter(cfg)
	engine := settlement.NewEngine(settlement.NewStore(), provider, opsAlerts, logging.Logger)

	handlers.Init(cfg, engine)

	// Фоновый обход зрелых рефералов
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	engine.StartSweeper(sweepCtx, cfg.SweepInterval)

	if cfg.Env == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.SetTrustedProxies(cfg.TrustedProxies)
	r.Use(middleware.SetupCORS(cfg))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ========== ГРУППЫ МАРШРУТОВ ==========
	api := r.Group("/api")
	{
		api.GET("/health", handlers.HealthHandler)
		api.GET("/products", handlers.GetProductsHandler)
		api.POST("/auth/register", handlers.RegisterHandler)
		api.POST("/auth/login", handlers.LoginHandler)
		api.POST("/auth/refresh", handlers.RefreshHandler)
	}

	// Личный кабинет реферальной программы
	referral := r.Group("/api/referral")
	referral.Use(middleware.AuthMiddleware(cfg))
	{
		referral.GET("/account", handlers.GetReferralAccountHandler)
		referral.GET("/friends", handlers.GetReferralFriendsHandler)

		withdrawLimiter := middleware.NewRateLimiter(5, time.Hour) // 5 запросов в час
		referral.POST("/withdraw", middleware.WithdrawRateLimit(withdrawLimiter), handlers.WithdrawHandler)
	}

	// Вебхуки биллинга (bearer-секрет)
	webhooks := r.Group("/api/webhooks")
	webhooks.Use(middleware.WebhookAuthMiddleware(cfg))
	{
		webhooks.POST("/billing", handlers.BillingWebhookHandler)
	}

	port := ":" + cfg.Port
	baseURL := "http://localhost:" + cfg.Port

	fmt.Printf("\n============================================================\n")
	fmt.Printf("   🚀 Реферальная программа - сервис выплат\n")
	fmt.Printf("============================================================\n\n")
	fmt.Printf("   📡 API Health       %s/api/health\n", baseURL)
	fmt.Printf("   📡 Метрики          %s/metrics\n", baseURL)
	fmt.Printf("   🔐 Регистрация      %s/api/auth/register\n", baseURL)
	fmt.Printf("   🔐 Вход             %s/api/auth/login\n", baseURL)
	fmt.Printf("   💰 Счёт             %s/api/referral/account\n", baseURL)
	fmt.Printf("   💰 Приглашённые     %s/api/referral/friends\n", baseURL)
	fmt.Printf("   💰 Вывод средств    %s/api/referral/withdraw\n", baseURL)
	fmt.Printf("   📥 Вебхук биллинга  %s/api/webhooks/billing\n\n", baseURL)
	fmt.Printf("   ⚙️  Конфигурация: порт=%s, режим=%s, БД=%s\n", cfg.Port, cfg.Env, cfg.DBName)
	fmt.Printf("   ⏰ Обход выплат каждые %v, зрелость %v\n", cfg.SweepInterval, cfg.PayoutMaturity)
	fmt.Printf("============================================================\n")

	log.Printf("🚀 Сервер запущен на порту %s", port)
	r.Run(port)
}
