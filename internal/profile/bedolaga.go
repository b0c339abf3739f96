package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reshala/support-desk/internal/config"
	"github.com/reshala/support-desk/internal/domain"
)

const defaultCurrency = "RUB"

// BedolagaClient reads balances and transactions from the Bedolaga billing bot API.
type BedolagaClient struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewBedolagaClient builds a client from config.
func NewBedolagaClient(cfg config.BedolagaConfig, logger *zap.Logger) *BedolagaClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BedolagaClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With(zap.String("component", "bedolaga")),
	}
}

// Configured reports whether the client can make calls.
func (c *BedolagaClient) Configured() bool {
	return c != nil && c.baseURL != "" && c.token != ""
}

// FetchBalance returns the wallet of a client, or false when unknown or unreachable.
func (c *BedolagaClient) FetchBalance(ctx context.Context, clientID domain.ClientID) (Balance, bool) {
	if !c.Configured() {
		return Balance{}, false
	}
	var payload struct {
		ID            int64    `json:"id"`
		BalanceRubles *float64 `json:"balance_rubles"`
		BalanceKopeks float64  `json:"balance_kopeks"`
	}
	if err := c.getJSON(ctx, "/users/"+clientID.String(), &payload); err != nil {
		c.logger.Warn("fetch balance failed", zap.Int64("client_id", int64(clientID)), zap.Error(err))
		return Balance{}, false
	}
	amount := payload.BalanceKopeks / 100
	if payload.BalanceRubles != nil {
		amount = *payload.BalanceRubles
	}
	return Balance{Amount: amount, Currency: defaultCurrency, InternalID: payload.ID}, true
}

// FetchTransactions returns the latest ledger entries for a Bedolaga internal user id.
func (c *BedolagaClient) FetchTransactions(ctx context.Context, internalID int64) ([]Transaction, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if internalID == 0 {
		return nil, nil
	}
	q := url.Values{}
	q.Set("user_id", strconv.FormatInt(internalID, 10))
	q.Set("limit", "30")
	q.Set("offset", "0")

	var payload struct {
		Items []struct {
			AmountRubles *float64 `json:"amount_rubles"`
			AmountKopeks float64  `json:"amount_kopeks"`
			Type         string   `json:"type"`
			Description  string   `json:"description"`
			CreatedAt    string   `json:"created_at"`
		} `json:"items"`
	}
	if err := c.getJSON(ctx, "/transactions?"+q.Encode(), &payload); err != nil {
		return nil, err
	}
	result := make([]Transaction, 0, len(payload.Items))
	for _, item := range payload.Items {
		amount := item.AmountKopeks / 100
		if item.AmountRubles != nil {
			amount = *item.AmountRubles
		}
		result = append(result, Transaction{
			Amount:      amount,
			Currency:    defaultCurrency,
			Type:        item.Type,
			Description: item.Description,
			CreatedAt:   item.CreatedAt,
		})
	}
	return result, nil
}

func (c *BedolagaClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bedolaga %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode bedolaga response: %w", err)
	}
	return nil
}
