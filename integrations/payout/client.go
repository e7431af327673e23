package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Клиент внешнего платёжного провайдера (REST)
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type payoutRequest struct {
	RecipientEmail string  `json:"recipient_email"`
	Amount         float64 `json:"amount"`
	Memo           string  `json:"memo"`
}

type payoutResponse struct {
	OK         bool   `json:"ok"`
	ProviderID string `json:"provider_id"`
	Error      string `json:"error,omitempty"`
}

// ProviderError – не-2xx ответ провайдера. Статус и тело сохраняем
// целиком: они уходят в диагностику журнальной записи
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Body)
}

// SendPayout отправляет один перевод. Идемпотентность – забота вызывающей
// стороны (аренда счёта), ключей идемпотентности у провайдера нет
func (c *Client) SendPayout(ctx context.Context, recipientEmail string, amount float64, memo string) (string, error) {
	body, err := json.Marshal(payoutRequest{
		RecipientEmail: recipientEmail,
		Amount:         amount,
		Memo:           memo,
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1/payouts", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &ProviderError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed payoutResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode provider response: %w", err)
	}
	if !parsed.OK {
		return "", &ProviderError{StatusCode: resp.StatusCode, Body: parsed.Error}
	}
	return parsed.ProviderID, nil
}
