// Package external provides the anti-corruption layer between the switch
// monitoring domain and outside transports. Outbound sends are routed
// through a circuit breaker and failures are mapped to domain-level
// AppErrors so the dispatcher can classify them without knowing SMTP.
package external

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/jordan-wright/email"
	"github.com/sony/gobreaker/v2"

	"lifeline/internal/types"
)

// Compile-time assertion that SMTPSender implements NotificationSender.
var _ types.NotificationSender = (*SMTPSender)(nil)

// SMTPConfig holds the connection settings for the SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password types.SecretString
	From     string
}

// sendFunc performs the actual wire send. Extracted for testability.
type sendFunc func(e *email.Email, addr string, auth smtp.Auth) error

// SMTPSender implements NotificationSender over an SMTP relay using
// jordan-wright/email. All sends pass through a circuit breaker so a dead
// relay fails fast instead of holding worker invocations open.
//
// Error classification follows SMTP reply semantics: 5xx replies are
// permanent (the relay will never accept this message), 4xx replies and
// transport-level errors are transient. An open breaker reports transient,
// since the relay may recover.
type SMTPSender struct {
	cfg     SMTPConfig
	breaker *gobreaker.CircuitBreaker[string]
	send    sendFunc
	logger  types.Logger
}

// SMTPSenderOption is a functional option for configuring an SMTPSender.
type SMTPSenderOption func(*SMTPSender)

// WithSendFunc overrides the wire-level send. Intended for tests.
func WithSendFunc(fn sendFunc) SMTPSenderOption {
	return func(s *SMTPSender) {
		s.send = fn
	}
}

// NewSMTPSender creates an SMTPSender for the given relay configuration.
func NewSMTPSender(cfg SMTPConfig, logger types.Logger, opts ...SMTPSenderOption) *SMTPSender {
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "smtp",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			// Permanent rejections are the relay working as intended;
			// only transport trouble should trip the breaker.
			return err == nil || types.IsPermanentDelivery(err)
		},
	})

	s := &SMTPSender{
		cfg:     cfg,
		breaker: cb,
		logger:  logger,
	}
	s.send = func(e *email.Email, addr string, auth smtp.Auth) error {
		return e.Send(addr, auth)
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Send performs one delivery attempt. The content arrives as opaque
// ciphertext and is transmitted as-is; decryption is the recipient
// tooling's concern. The idempotency key rides along as the Message-Id so
// relay-side dedup can collapse duplicate attempts.
//
// The email library has no context-aware send, so cancellation is handled
// around the wire call: the attempt runs in its own goroutine and a
// cancelled ctx returns a transient error immediately. The in-flight
// attempt finishes in the background and still feeds the breaker.
func (s *SMTPSender) Send(ctx context.Context, recipient string, subject string, content string, idempotencyKey string) (*types.SendResult, error) {
	messageID := fmt.Sprintf("<%s@lifeline>", idempotencyKey)

	if err := ctx.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeDeliveryTransient, "smtp send cancelled", err)
	}

	e := email.NewEmail()
	e.From = s.cfg.From
	e.To = []string{recipient}
	e.Subject = subject
	e.Text = []byte(content)
	e.Headers.Set("Message-Id", messageID)

	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password.Unmask(), s.cfg.Host)
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	done := make(chan error, 1)
	go func() {
		_, err := s.breaker.Execute(func() (string, error) {
			if err := s.send(e, addr, auth); err != nil {
				return "", s.mapError(err)
			}
			return messageID, nil
		})
		done <- err
	}()

	var err error
	select {
	case <-ctx.Done():
		s.logger.Warn("smtp send abandoned by caller",
			"message_id", messageID,
			"error", ctx.Err(),
		)
		return nil, types.NewAppError(types.ErrCodeDeliveryTransient, "smtp send cancelled", ctx.Err())
	case err = <-done:
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, types.NewAppError(types.ErrCodeDeliveryTransient, "smtp circuit breaker open", err)
		}
		return nil, err
	}

	return &types.SendResult{ProviderMessageID: messageID}, nil
}

// mapError translates SMTP and transport failures into delivery AppErrors.
func (s *SMTPSender) mapError(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 500 {
			return types.NewAppErrorWithDetails(types.ErrCodeDeliveryPermanent,
				"smtp relay permanently rejected message", err,
				map[string]any{"smtp_code": tpErr.Code})
		}
		return types.NewAppErrorWithDetails(types.ErrCodeDeliveryTransient,
			"smtp relay temporarily rejected message", err,
			map[string]any{"smtp_code": tpErr.Code})
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return types.NewAppError(types.ErrCodeDeliveryTransient, "smtp connection failed", err)
	}

	return types.NewAppError(types.ErrCodeUpstreamSMTP, "smtp send failed", err)
}
