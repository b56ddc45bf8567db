package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultBaseURL = "https://api.telegram.org"

// ErrNotConfigured is returned when no bot token is set.
var ErrNotConfigured = errors.New("telegram bot token not configured")

type Client struct {
	token string
	http  *resty.Client
}

// NewClient builds a bot API client. baseURL may be empty.
func NewClient(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		token: strings.TrimSpace(token),
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(10 * time.Second),
	}
}

func (c *Client) Configured() bool { return c.token != "" }

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	var out apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"chat_id": chatID, "text": text}).
		SetResult(&out).
		SetError(&out).
		Post("/bot" + c.token + "/sendMessage")
	return check(resp, out, err)
}

func (c *Client) SendDocument(ctx context.Context, chatID int64, data []byte, fileName, caption string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	form := map[string]string{"chat_id": strconv.FormatInt(chatID, 10)}
	if caption != "" {
		form["caption"] = caption
	}
	var out apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetFileReader("document", fileName, bytes.NewReader(data)).
		SetResult(&out).
		SetError(&out).
		Post("/bot" + c.token + "/sendDocument")
	return check(resp, out, err)
}

func check(resp *resty.Response, out apiResponse, err error) error {
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	if resp.IsError() || !out.OK {
		return fmt.Errorf("telegram api returned status %s: %s", resp.Status(), out.Description)
	}
	return nil
}
