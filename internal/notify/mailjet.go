package notify

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
)

const mailjetSendURL = "https://api.mailjet.com/v3.1/send"

const (
	mailjetMaxRetries = 5
	mailjetRetryWait  = 30 * time.Second
)

// Mailjet sends through the Mailjet v3.1 send API. Rate-limited requests
// are retried a bounded number of times.
type Mailjet struct {
	cfg       Config
	http      *http.Client
	sendURL   string
	retryWait time.Duration
}

func NewMailjet(cfg Config) (*Mailjet, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("mailjet api key and secret key are required")
	}
	if strings.TrimSpace(cfg.SenderAddress) == "" {
		return nil, errors.New("mailjet sender address is required")
	}
	return &Mailjet{
		cfg:       cfg,
		http:      &http.Client{Timeout: 30 * time.Second},
		sendURL:   mailjetSendURL,
		retryWait: mailjetRetryWait,
	}, nil
}

type mailjetMessage struct {
	From     mailjetAddress   `json:"From"`
	To       []mailjetAddress `json:"To"`
	Subject  string           `json:"Subject"`
	HTMLPart string           `json:"HTMLPart"`
}

type mailjetAddress struct {
	Email string `json:"Email"`
}

func (m *Mailjet) Send(ctx context.Context, to, subject, htmlBody string) error {
	payload := struct {
		Messages []mailjetMessage `json:"Messages"`
	}{
		Messages: []mailjetMessage{{
			From:     mailjetAddress{Email: m.cfg.SenderAddress},
			To:       []mailjetAddress{{Email: to}},
			Subject:  subject,
			HTMLPart: htmlBody,
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	for retries := 0; ; retries++ {
		status, detail, err := m.post(ctx, body)
		if err != nil {
			return fmt.Errorf("send email: %w", err)
		}
		if status >= 200 && status < 300 {
			return nil
		}
		if status == http.StatusTooManyRequests && retries < mailjetMaxRetries {
			select {
			case <-time.After(m.retryWait):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return fmt.Errorf("send email: status %d: %s", status, detail)
	}
}

func (m *Mailjet) post(ctx context.Context, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.sendURL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(m.cfg.APIKey, m.cfg.SecretKey)

	resp, err := m.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, strings.TrimSpace(string(detail)), nil
}
