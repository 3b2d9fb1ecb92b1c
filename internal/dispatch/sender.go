package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
)

// SendError classifies a failed send. Transient failures leave the trigger
// pending for a later retry; permanent ones produce a failed delivery.
type SendError struct {
	Permanent bool
	Err       error
}

func (e *SendError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("permanent send failure: %v", e.Err)
	}
	return fmt.Sprintf("transient send failure: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a permanent send failure.
func IsPermanent(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Permanent
}

// Sender delivers one message to one address on one channel.
type Sender interface {
	Send(ctx context.Context, address, text string, silent bool) error
}

// TelegramSender delivers through the Telegram Bot API. The address is the
// chat id.
type TelegramSender struct {
	Token  string
	Client *http.Client
	// BaseURL is overridable for tests; defaults to the public API.
	BaseURL string
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

func (s *TelegramSender) Send(ctx context.Context, address, text string, silent bool) error {
	base := s.BaseURL
	if base == "" {
		base = "https://api.telegram.org"
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", base, s.Token)

	body, _ := json.Marshal(map[string]interface{}{
		"chat_id":              address,
		"text":                 text,
		"disable_notification": silent,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return &SendError{Permanent: true, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return &SendError{Err: err}
	}
	defer resp.Body.Close()

	var tr telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return &SendError{Err: fmt.Errorf("telegram: bad response: %w", err)}
	}
	if tr.OK {
		return nil
	}

	// 400 (bad chat id) and 403 (bot blocked) cannot succeed on retry.
	if tr.ErrorCode == http.StatusBadRequest || tr.ErrorCode == http.StatusForbidden {
		return &SendError{Permanent: true, Err: fmt.Errorf("telegram: %d %s", tr.ErrorCode, tr.Description)}
	}
	return &SendError{Err: fmt.Errorf("telegram: %d %s", tr.ErrorCode, tr.Description)}
}

// EmailSender delivers through an SMTP relay. The address is the mailbox.
type EmailSender struct {
	Host string
	Port int
	From string
	Auth smtp.Auth
}

func (s *EmailSender) Send(ctx context.Context, address, text string, silent bool) error {
	if !strings.Contains(address, "@") {
		return &SendError{Permanent: true, Err: fmt.Errorf("email: invalid address %q", address)}
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: paraplan\r\n\r\n%s\r\n", s.From, address, text)

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(fmt.Sprintf("%s:%d", s.Host, s.Port), s.Auth, s.From, []string{address}, []byte(msg))
	}()

	select {
	case <-ctx.Done():
		return &SendError{Err: ctx.Err()}
	case err := <-done:
		if err == nil {
			return nil
		}
		if strings.Contains(err.Error(), "550") || strings.Contains(err.Error(), "553") {
			return &SendError{Permanent: true, Err: err}
		}
		return &SendError{Err: err}
	}
}
