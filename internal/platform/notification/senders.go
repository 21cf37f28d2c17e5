package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"
)

// ResendSender delivers email through the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
	logger zerolog.Logger
}

func NewResendSender(apiKey, from string, logger zerolog.Logger) *ResendSender {
	return newResendSender(resend.NewClient(apiKey), from, logger)
}

func newResendSender(client *resend.Client, from string, logger zerolog.Logger) *ResendSender {
	return &ResendSender{client: client, from: from, logger: logger}
}

func (s *ResendSender) SendEmail(ctx context.Context, to, subject, body string) error {
	sent, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		Html:    body,
	})
	if err != nil {
		return fmt.Errorf("resend send failed: %w", err)
	}
	s.logger.Debug().Str("message_id", sent.Id).Msg("email accepted by resend")
	return nil
}

// SMSGatewayConfig points at an HTTP SMS relay.
type SMSGatewayConfig struct {
	BaseURL string
	Token   string
	Sender  string
	Timeout time.Duration
	Retries int
}

type smsRequest struct {
	To     string `json:"to"`
	Body   string `json:"body"`
	Sender string `json:"sender,omitempty"`
}

type smsResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// SMSGatewaySender posts messages to {BaseURL}/messages with a bearer token.
type SMSGatewaySender struct {
	client *resty.Client
	sender string
	logger zerolog.Logger
}

func NewSMSGatewaySender(cfg SMSGatewayConfig, logger zerolog.Logger) *SMSGatewaySender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &SMSGatewaySender{client: client, sender: cfg.Sender, logger: logger}
}

func (s *SMSGatewaySender) SendSMS(ctx context.Context, to, body string) error {
	var result smsResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(smsRequest{To: to, Body: body, Sender: s.sender}).
		SetResult(&result).
		SetError(&result).
		Post("/messages")
	if err != nil {
		return fmt.Errorf("sms gateway request: %w", err)
	}
	if resp.IsError() {
		msg := result.Error
		if msg == "" {
			msg = resp.Status()
		}
		return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode(), msg)
	}
	s.logger.Debug().Str("message_id", result.ID).Str("status", result.Status).Msg("sms accepted by gateway")
	return nil
}

// LogSender stands in for an unconfigured channel: it only logs the message.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendEmail(_ context.Context, to, subject, _ string) error {
	s.logger.Info().Str("channel", "email").Str("to", to).Str("subject", subject).Msg("email not configured, message logged only")
	return nil
}

func (s *LogSender) SendSMS(_ context.Context, to, body string) error {
	s.logger.Info().Str("channel", "sms").Str("to", to).Int("length", len(body)).Msg("sms not configured, message logged only")
	return nil
}
