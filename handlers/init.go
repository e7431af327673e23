package handlers

import (
	"log"

	"referral-system/config"
	"referral-system/settlement"
)

var (
	cfg    *config.Config
	engine *settlement.Engine
)

// Init передаёт обработчикам конфигурацию и движок выплат
func Init(c *config.Config, e *settlement.Engine) {
	cfg = c
	engine = e
	log.Println("✅ Handlers initialized")
}
