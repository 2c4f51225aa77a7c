// Package gateway is the WhatsApp gateway REST client (Green API wire
// shape): outbound text sends, media downloads, and the connectivity
// probe used by the health endpoint.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	Host       string
	InstanceID string
	Token      string
	Timeout    time.Duration

	// SendRate/SendBurst pace outbound API calls; gateways throttle
	// hard on bursts.
	SendRate  float64
	SendBurst int
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

const (
	defaultHost      = "https://api.green-api.com"
	defaultTimeout   = 15 * time.Second
	defaultSendRate  = 1.0
	defaultSendBurst = 3
)

func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.InstanceID) == "" {
		return nil, fmt.Errorf("gateway instance id is required")
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("gateway token is required")
	}
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		host = defaultHost
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	sendRate := cfg.SendRate
	if sendRate <= 0 {
		sendRate = defaultSendRate
	}
	sendBurst := cfg.SendBurst
	if sendBurst <= 0 {
		sendBurst = defaultSendBurst
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: fmt.Sprintf("%s/waInstance%s", host, cfg.InstanceID),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(sendRate), sendBurst),
		logger:  logger,
	}, nil
}

type sendMessageRequest struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

type sendMessageResponse struct {
	IDMessage string `json:"idMessage"`
}

// SendText delivers one outbound text message.
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	if chatID == "" {
		return fmt.Errorf("chat id is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("outbound pacing: %w", err)
	}

	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Message: text})
	if err != nil {
		return fmt.Errorf("encode send request: %w", err)
	}
	url := fmt.Sprintf("%s/sendMessage/%s", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("send message: gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && out.IDMessage != "" {
		c.logger.Debug("gateway_message_sent", "chat_id", chatID, "id_message", out.IDMessage)
	}
	return nil
}

// DownloadMedia fetches media referenced by a webhook payload. The URL
// is pre-signed by the gateway, so no auth header is attached.
func (c *Client) DownloadMedia(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("media url is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download media: gateway returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	return data, nil
}

type sendFileByURLRequest struct {
	ChatID   string `json:"chatId"`
	URLFile  string `json:"urlFile"`
	FileName string `json:"fileName"`
	Caption  string `json:"caption,omitempty"`
}

// SendFileByURL delivers a file the gateway fetches from a public URL,
// with an optional caption.
func (c *Client) SendFileByURL(ctx context.Context, chatID, fileURL, fileName, caption string) error {
	if chatID == "" {
		return fmt.Errorf("chat id is required")
	}
	if fileURL == "" {
		return fmt.Errorf("file url is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("outbound pacing: %w", err)
	}

	body, err := json.Marshal(sendFileByURLRequest{
		ChatID:   chatID,
		URLFile:  fileURL,
		FileName: fileName,
		Caption:  caption,
	})
	if err != nil {
		return fmt.Errorf("encode file request: %w", err)
	}
	url := fmt.Sprintf("%s/sendFileByUrl/%s", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("send file: gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && out.IDMessage != "" {
		c.logger.Debug("gateway_file_sent", "chat_id", chatID, "id_message", out.IDMessage)
	}
	return nil
}

type chatHistoryRequest struct {
	ChatID string `json:"chatId"`
	Count  int    `json:"count"`
}

// HistoryMessage is one entry of the gateway-side chat log, newest
// first as the gateway returns them. Type is "incoming" or "outgoing".
type HistoryMessage struct {
	IDMessage           string `json:"idMessage"`
	Type                string `json:"type"`
	TypeMessage         string `json:"typeMessage"`
	Timestamp           int64  `json:"timestamp"`
	TextMessage         string `json:"textMessage"`
	ExtendedTextMessage struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
	DownloadURL string `json:"downloadUrl"`
	Caption     string `json:"caption"`
	SenderID    string `json:"senderId"`
	SenderName  string `json:"senderName"`
}

// ChatHistory fetches the last count messages the gateway holds for a
// chat. This is the gateway's own log, independent of the bot's
// conversation context.
func (c *Client) ChatHistory(ctx context.Context, chatID string, count int) ([]HistoryMessage, error) {
	if chatID == "" {
		return nil, fmt.Errorf("chat id is required")
	}
	if count <= 0 {
		count = 100
	}
	body, err := json.Marshal(chatHistoryRequest{ChatID: chatID, Count: count})
	if err != nil {
		return nil, fmt.Errorf("encode history request: %w", err)
	}
	url := fmt.Sprintf("%s/getChatHistory/%s", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("chat history: gateway returned %d", resp.StatusCode)
	}
	var out []HistoryMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode history response: %w", err)
	}
	return out, nil
}

// Ping checks gateway reachability and credentials.
func (c *Client) Ping(ctx context.Context) error {
	url := fmt.Sprintf("%s/getSettings/%s", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway ping: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway ping: status %d", resp.StatusCode)
	}
	return nil
}
