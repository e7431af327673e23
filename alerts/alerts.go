package alerts

import (
	"fmt"
	"log"

	"referral-system/config"
	"referral-system/utils"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// OpsAlerter будит оператора, когда выплата требует ручной сверки:
// деньги ушли провайдеру, а локальная фиксация не удалась.
// Каналы – Telegram и почта; отказ канала логируется, но не фатален
type OpsAlerter struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	email  *utils.EmailService
	to     string
}

func NewOpsAlerter(cfg *config.Config) *OpsAlerter {
	a := &OpsAlerter{
		chatID: cfg.TelegramOpsChatID,
		email:  utils.NewEmailService(cfg),
		to:     cfg.OpsEmail,
	}

	if cfg.TelegramBotToken != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			log.Printf("⚠️ Telegram-бот недоступен, алерты только на почту: %v", err)
		} else {
			a.bot = bot
			log.Printf("✅ Telegram-алерты включены: @%s", bot.Self.UserName)
		}
	}
	return a
}

func (a *OpsAlerter) ManualReview(txID, accountID string, amount float64, reason string) {
	text := fmt.Sprintf(
		"🚨 ТРЕБУЕТСЯ РУЧНАЯ СВЕРКА\n\nТранзакция: %s\nСчёт: %s\nСумма: %.2f\nПричина: %s\n\nДеньги отправлены провайдеру, локальная фиксация не прошла. НЕ откатывать баланс.",
		txID, accountID, amount, reason)

	if a.bot != nil && a.chatID != 0 {
		msg := tgbotapi.NewMessage(a.chatID, text)
		if _, err := a.bot.Send(msg); err != nil {
			log.Printf("⚠️ Не удалось отправить Telegram-алерт: %v", err)
		}
	}

	if a.to != "" {
		if err := a.email.SendManualReviewAlert(a.to, txID, accountID, amount, reason); err != nil {
			log.Printf("⚠️ Не удалось отправить email-алерт: %v", err)
		}
	}
}
