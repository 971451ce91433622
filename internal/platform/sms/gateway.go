// Package sms delivers login codes and ledger notifications by text message.
package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/boliseva-loan-ledger/internal/config"
)

// Result is the outcome of a single delivery
type Result struct {
	Success bool
	Error   string
}

// Gateway sends text messages
type Gateway interface {
	Send(ctx context.Context, to, body string) error
	SendOTP(ctx context.Context, phone, code string) Result
}

// OTPMessage is the body of a login code message
func OTPMessage(code string) string {
	return fmt.Sprintf("Your BoliSeva OTP is: %s. Valid for 5 minutes.", code)
}

// NormalizePhone prefixes numbers that lack a country code with defaultCode
func NormalizePhone(phone, defaultCode string) string {
	phone = strings.Join(strings.Fields(phone), "")
	if phone == "" || strings.HasPrefix(phone, "+") {
		return phone
	}
	return defaultCode + strings.TrimPrefix(phone, "0")
}

// messageCreator is the part of the Twilio REST client used to send messages
type messageCreator interface {
	CreateMessage(params *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error)
}

// TwilioGateway sends messages through the Twilio Messages API
type TwilioGateway struct {
	api         messageCreator
	from        string
	defaultCode string
	logger      *slog.Logger
}

func NewTwilioGateway(logger *slog.Logger, cfg *config.SMSConfig) *TwilioGateway {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &TwilioGateway{
		api:         client.Api,
		from:        cfg.FromNumber,
		defaultCode: cfg.DefaultCountryCode,
		logger:      logger,
	}
}

func (g *TwilioGateway) Send(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	to = NormalizePhone(to, g.defaultCode)
	if to == "" {
		return errors.New("recipient phone number is empty")
	}

	params := &twilioapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(g.from)
	params.SetBody(body)

	resp, err := g.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send SMS to %s: %w", to, err)
	}

	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	g.logger.Info("SMS sent", "to", to, "message_sid", sid)
	return nil
}

func (g *TwilioGateway) SendOTP(ctx context.Context, phone, code string) Result {
	if err := g.Send(ctx, phone, OTPMessage(code)); err != nil {
		g.logger.Error("Failed to send OTP", "phone", phone, "error", err)
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true}
}

// ConsoleGateway logs messages instead of sending them; used when no SMS provider is configured
type ConsoleGateway struct {
	logger      *slog.Logger
	defaultCode string
}

func NewConsoleGateway(logger *slog.Logger, defaultCode string) *ConsoleGateway {
	return &ConsoleGateway{logger: logger, defaultCode: defaultCode}
}

func (g *ConsoleGateway) Send(_ context.Context, to, body string) error {
	g.logger.Info("SMS (console)", "to", NormalizePhone(to, g.defaultCode), "body", body)
	return nil
}

func (g *ConsoleGateway) SendOTP(ctx context.Context, phone, code string) Result {
	_ = g.Send(ctx, phone, OTPMessage(code))
	return Result{Success: true}
}

// NewGateway selects Twilio when credentials are configured and the console gateway otherwise
func NewGateway(logger *slog.Logger, cfg *config.SMSConfig) Gateway {
	if cfg.Configured() {
		logger.Info("Using Twilio SMS gateway", "from", cfg.FromNumber)
		return NewTwilioGateway(logger, cfg)
	}
	logger.Warn("Twilio credentials not configured, SMS messages will be logged only")
	return NewConsoleGateway(logger, cfg.DefaultCountryCode)
}
