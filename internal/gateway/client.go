// Package gateway — клиент внешнего платёжного шлюза.
// Все вызовы синхронные с ограниченным таймаутом; подтверждение оплаты
// приходит отдельно асинхронным вебхуком (at-least-once).
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/serviapp/escrow-backend/internal/pkg/apperror"
)

// ErrInitiationFailed возвращается, когда шлюз отклонил создание платежа.
// Сделка остаётся в PendingPayment, клиент может повторить попытку.
var ErrInitiationFailed = errors.New("payment initiation failed")

// Client вызывает REST API платёжного провайдера.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient создаёт клиента шлюза.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type intentRequest struct {
	JobID  uuid.UUID `json:"job_id"`
	Amount float64   `json:"amount"`
}

type intentResponse struct {
	Reference string `json:"reference"`
}

// CreateIntent открывает платёжное намерение и возвращает reference шлюза.
// Идемпотентность на уровне job живёт в EscrowRepository: повторный вызов
// по той же сделке до подтверждения не доходит до этого метода.
func (c *Client) CreateIntent(ctx context.Context, jobID uuid.UUID, amount float64) (string, error) {
	var resp intentResponse
	if err := c.post(ctx, "/v1/intents", intentRequest{JobID: jobID, Amount: amount}, &resp); err != nil {
		return "", err
	}
	if resp.Reference == "" {
		return "", fmt.Errorf("gateway: %w: пустой reference в ответе", ErrInitiationFailed)
	}
	return resp.Reference, nil
}

type payoutRequest struct {
	RecipientID uuid.UUID `json:"recipient_id"`
	JobID       uuid.UUID `json:"job_id"`
	Amount      float64   `json:"amount"`
}

// Payout отправляет выплату исполнителю на внешний рельс.
func (c *Client) Payout(ctx context.Context, recipientID, jobID uuid.UUID, amount float64) error {
	return c.post(ctx, "/v1/payouts", payoutRequest{RecipientID: recipientID, JobID: jobID, Amount: amount}, nil)
}

type refundRequest struct {
	Reference string  `json:"reference"`
	Amount    float64 `json:"amount"`
}

// Refund возвращает средства клиенту по исходному платежу.
func (c *Client) Refund(ctx context.Context, reference string, amount float64) error {
	return c.post(ctx, "/v1/refunds", refundRequest{Reference: reference, Amount: amount}, nil)
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("gateway: не удалось сериализовать запрос: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("gateway: не удалось создать запрос: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Таймаут или сетевой сбой: рельс недоступен, вызывающий повторит с backoff.
		return apperror.Wrap(err, apperror.ErrCodeGateway, "платёжный шлюз недоступен")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("gateway: не удалось разобрать ответ: %w", err)
			}
		}
		return nil
	case resp.StatusCode >= 500:
		return apperror.New(apperror.ErrCodeGateway, fmt.Sprintf("платёжный шлюз вернул %d", resp.StatusCode))
	default:
		return fmt.Errorf("gateway: %w: статус %d", ErrInitiationFailed, resp.StatusCode)
	}
}
