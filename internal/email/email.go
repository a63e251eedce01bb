package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type Config struct {
	BaseURL              string
	Username             string
	Password             string
	ActivationTemplateID int
	ResetTemplateID      int
	ShareTemplateID      int
	// Allowlist restricts delivery to these addresses or "@domain" suffixes.
	// Empty means every recipient is allowed.
	Allowlist []string
}

type Client struct {
	config Config
	http   *http.Client
}

func New(cfg Config) *Client {
	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

// ParseAllowlist splits a comma separated EMAIL_ALLOWLIST value.
func ParseAllowlist(raw string) []string {
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

func (c *Client) allowed(toEmail string) bool {
	if len(c.config.Allowlist) == 0 {
		return true
	}
	addr := strings.ToLower(toEmail)
	for _, entry := range c.config.Allowlist {
		if strings.HasPrefix(entry, "@") && strings.HasSuffix(addr, entry) {
			return true
		}
		if addr == entry {
			return true
		}
	}
	return false
}

type txRequest struct {
	SubscriberEmail string            `json:"subscriber_email"`
	TemplateID      int               `json:"template_id"`
	Data            map[string]string `json:"data"`
	ContentType     string            `json:"content_type"`
}

func (c *Client) SendActivation(ctx context.Context, toEmail, activationLink string) error {
	if c.config.BaseURL == "" {
		slog.Info("email: not configured, activation link", "to", toEmail, "link", activationLink)
		return nil
	}
	return c.send(ctx, toEmail, c.config.ActivationTemplateID, map[string]string{
		"activationLink": activationLink,
	})
}

func (c *Client) SendPasswordReset(ctx context.Context, toEmail, resetLink string) error {
	if c.config.BaseURL == "" {
		slog.Info("email: not configured, reset link", "to", toEmail, "link", resetLink)
		return nil
	}
	return c.send(ctx, toEmail, c.config.ResetTemplateID, map[string]string{
		"resetLink": resetLink,
	})
}

func (c *Client) SendShareNotification(ctx context.Context, toEmail, fileName, courseName, shareURL string, expires *time.Time) error {
	if c.config.BaseURL == "" {
		slog.Info("email: not configured, share link", "to", toEmail, "file", fileName, "link", shareURL)
		return nil
	}
	data := map[string]string{
		"fileName":   fileName,
		"courseName": courseName,
		"shareURL":   shareURL,
	}
	if expires != nil {
		data["expires"] = expires.UTC().Format(time.RFC1123)
	}
	return c.send(ctx, toEmail, c.config.ShareTemplateID, data)
}

func (c *Client) send(ctx context.Context, toEmail string, templateID int, data map[string]string) error {
	if templateID == 0 {
		slog.Warn("email: template id not configured, skipping", "to", toEmail)
		return nil
	}
	if !c.allowed(toEmail) {
		slog.Warn("email: recipient not in allowlist, skipping", "to", toEmail, "template_id", templateID)
		return nil
	}

	body := txRequest{
		SubscriberEmail: toEmail,
		TemplateID:      templateID,
		Data:            data,
		ContentType:     "html",
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/tx", bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create email request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.config.Username, c.config.Password)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("listmonk returned status %d", resp.StatusCode)
	}

	return nil
}
