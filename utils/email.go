package utils

import (
	"fmt"
	"net/smtp"

	"referral-system/config"
)

type EmailService struct {
	config *config.Config
}

func NewEmailService(cfg *config.Config) *EmailService {
	return &EmailService{config: cfg}
}

// SendEmail отправляет email через SMTP
func (s *EmailService) SendEmail(to, subject, body string) error {
	if s.config.SMTPHost == "" || s.config.SMTPUser == "" {
		return fmt.Errorf("SMTP not configured")
	}

	auth := smtp.PlainAuth("", s.config.SMTPUser, s.config.SMTPPassword, s.config.SMTPHost)

	msg := []byte(fmt.Sprintf("To: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: text/html; charset=utf-8\r\n"+
		"\r\n"+
		"%s\r\n", to, subject, body))

	addr := fmt.Sprintf("%s:%d", s.config.SMTPHost, s.config.SMTPPort)
	return smtp.SendMail(addr, auth, s.config.EmailFrom, []string{to}, msg)
}

// SendManualReviewAlert – письмо оператору о выплате, требующей ручной сверки
func (s *EmailService) SendManualReviewAlert(to, txID, accountID string, amount float64, reason string) error {
	subject := "🚨 Manual review: выплата требует ручной сверки"

	body := fmt.Sprintf(`
        <h2>Требуется ручная сверка выплаты</h2>
        <p>Деньги отправлены провайдеру, локальная фиксация не прошла.</p>
        <table border="1" cellpadding="5" style="border-collapse: collapse;">
            <tr><td>Транзакция</td><td>%s</td></tr>
            <tr><td>Счёт</td><td>%s</td></tr>
            <tr><td>Сумма</td><td>%.2f</td></tr>
            <tr><td>Причина</td><td>%s</td></tr>
        </table>
        <p><strong>Баланс НЕ откатывать</strong> – сверить с кабинетом провайдера и закрыть транзакцию вручную.</p>
    `, txID, accountID, amount, reason)

	return s.SendEmail(to, subject, body)
}
