// Package mail implements the outbound email collaborator on top of the
// Brevo transactional API.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultEndpoint = "https://api.brevo.com/v3/smtp/email"

var ErrNotConfigured = errors.New("mail: brevo sender missing api key")

// BrevoSender delivers transactional email over HTTP. It satisfies the
// notify.EmailSender port.
type BrevoSender struct {
	Client      *http.Client
	Endpoint    string
	APIKey      string
	SenderEmail string
	SenderName  string
}

type brevoPayload struct {
	Sender      map[string]string   `json:"sender"`
	To          []map[string]string `json:"to"`
	Subject     string              `json:"subject"`
	HTMLContent string              `json:"htmlContent"`
}

func (s *BrevoSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	if s.APIKey == "" {
		return ErrNotConfigured
	}
	payload := brevoPayload{
		Sender:      map[string]string{"name": s.SenderName, "email": s.SenderEmail},
		To:          []map[string]string{{"email": to}},
		Subject:     subject,
		HTMLContent: htmlBody,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mail: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("content-type", "application/json")
	req.Header.Set("api-key", s.APIKey)

	resp, err := s.client().Do(req)
	if err != nil {
		return fmt.Errorf("mail: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("mail: brevo responded %d: %s", resp.StatusCode, detail)
	}
	return nil
}

func (s *BrevoSender) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (s *BrevoSender) endpoint() string {
	if s.Endpoint != "" {
		return s.Endpoint
	}
	return defaultEndpoint
}
