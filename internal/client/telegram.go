package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"
)

// TelegramClient talks to the Bot API for two narrow purposes: channel
// membership lookups (the entitlement source) and user notifications.
type TelegramClient struct {
	baseURL    string
	botToken   string
	httpClient *http.Client
}

func NewTelegramClient(baseURL, botToken string) *TelegramClient {
	return &TelegramClient{
		baseURL:  baseURL,
		botToken: botToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type chatMemberResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		Status string `json:"status"`
	} `json:"result"`
	Description string `json:"description,omitempty"`
	ErrorCode   int    `json:"error_code,omitempty"`
}

// CheckMembership reports whether the user belongs to the channel.
// member, administrator and creator all count as membership.
func (c *TelegramClient) CheckMembership(ctx context.Context, channelID, telegramID string) (bool, error) {
	endpoint := fmt.Sprintf("%s/bot%s/getChatMember?chat_id=%s&user_id=%s",
		c.baseURL, c.botToken, url.QueryEscape(channelID), url.QueryEscape(telegramID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	var result chatMemberResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}

	if !result.OK {
		// "user not found" style answers are a confirmed negative, not a failure
		if resp.StatusCode == http.StatusBadRequest {
			return false, nil
		}
		return false, fmt.Errorf("telegram api error %d: %s", result.ErrorCode, result.Description)
	}

	switch result.Result.Status {
	case "member", "administrator", "creator":
		return true, nil
	default:
		return false, nil
	}
}

// Notify sends a plain message to the user. Fire-and-forget: failures are
// logged by callers and never retried within a sweep.
func (c *TelegramClient) Notify(ctx context.Context, telegramID, message string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.botToken)

	form := url.Values{}
	form.Set("chat_id", telegramID)
	form.Set("text", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.URL.RawQuery = form.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram api returned status %d", resp.StatusCode)
	}

	log.Printf("[TelegramClient] Notification sent to user %s", telegramID)
	return nil
}
