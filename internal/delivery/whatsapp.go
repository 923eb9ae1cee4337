package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"remindbot/internal/domain"
)

type WhatsAppConfig struct {
	Token         string
	PhoneNumberID string
	APIBase       string // default https://graph.facebook.com
	APIVersion    string // default v17.0
	Timeout       time.Duration
}

// WhatsApp sends text messages through the WhatsApp Cloud API.
type WhatsApp struct {
	cfg  WhatsAppConfig
	http *http.Client
}

func NewWhatsApp(cfg WhatsAppConfig, client *http.Client) (*WhatsApp, error) {
	if strings.TrimSpace(cfg.Token) == "" || strings.TrimSpace(cfg.PhoneNumberID) == "" {
		return nil, errors.New("whatsapp token and phone_number_id are required")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://graph.facebook.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v17.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &WhatsApp{cfg: cfg, http: client}, nil
}

func (*WhatsApp) Platform() domain.Platform { return domain.PlatformWhatsApp }

type waText struct {
	Body string `json:"body"`
}

type waMessage struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             waText `json:"text"`
}

func (w *WhatsApp) endpoint() string {
	return strings.TrimRight(w.cfg.APIBase, "/") + "/" + w.cfg.APIVersion + "/" + w.cfg.PhoneNumberID + "/messages"
}

func (w *WhatsApp) Deliver(ctx context.Context, address, text string) error {
	to := strings.TrimPrefix(strings.TrimSpace(address), "+")
	if to == "" {
		return fmt.Errorf("%w: empty whatsapp number", ErrPermanent)
	}
	body, err := json.Marshal(waMessage{MessagingProduct: "whatsapp", To: to, Type: "text", Text: waText{Body: text}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+w.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	var out struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out)
	err = fmt.Errorf("whatsapp send: http=%d code=%d %s", resp.StatusCode, out.Error.Code, out.Error.Message)
	// 4xx other than throttling will fail the same way on retry.
	if resp.StatusCode/100 == 4 && resp.StatusCode != http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	return err
}
