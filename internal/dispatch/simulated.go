package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StatusSimulated marks a delivery that was logged instead of sent.
const StatusSimulated = "simulated"

// #region outbox

// Delivery is one message a simulated provider accepted.
type Delivery struct {
	Channel string
	To      string
	Subject string
	Body    string
	ID      string
}

// Outbox records simulated deliveries in order.
type Outbox struct {
	mu         sync.Mutex
	deliveries []Delivery
}

func (o *Outbox) record(d Delivery) {
	if o == nil {
		return
	}
	o.mu.Lock()
	o.deliveries = append(o.deliveries, d)
	o.mu.Unlock()
}

// Deliveries returns a copy of everything recorded so far.
func (o *Outbox) Deliveries() []Delivery {
	if o == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Delivery(nil), o.deliveries...)
}

// #endregion outbox

// #region announcer

// SimulatedAnnouncer stands in for a speech synthesis service.
type SimulatedAnnouncer struct {
	SpeechKey string
	Region    string
	Outbox    *Outbox
	Logger    *zap.Logger
}

func (a *SimulatedAnnouncer) Ready() error {
	if a.SpeechKey == "" || a.Region == "" {
		return fmt.Errorf("speech: %w", ErrCredentialsMissing)
	}
	return nil
}

func (a *SimulatedAnnouncer) Announce(ctx context.Context, text string) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	id := uuid.NewString()
	a.Outbox.record(Delivery{Channel: "announce", Body: text, ID: id})
	logger(a.Logger).Info("announcement simulated", zap.String("region", a.Region), zap.Int("chars", len(text)))
	return Receipt{Status: StatusSimulated, ProviderID: id}, nil
}

// #endregion announcer

// #region mailer

// SimulatedMailer stands in for a transactional email API.
type SimulatedMailer struct {
	APIKey string
	From   string
	Outbox *Outbox
	Logger *zap.Logger
}

func (m *SimulatedMailer) Ready() error {
	if m.APIKey == "" {
		return fmt.Errorf("email: %w", ErrCredentialsMissing)
	}
	return nil
}

func (m *SimulatedMailer) Send(ctx context.Context, msg Email) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if msg.To == "" {
		return Receipt{}, fmt.Errorf("email: no recipient")
	}
	id := uuid.NewString()
	m.Outbox.record(Delivery{Channel: "email", To: msg.To, Subject: msg.Subject, Body: msg.Body, ID: id})
	logger(m.Logger).Info("email simulated", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return Receipt{Status: StatusSimulated, ProviderID: id, From: m.From, StatusCode: 202}, nil
}

// #endregion mailer

// #region caller

// SimulatedCaller stands in for a telephony API.
type SimulatedCaller struct {
	AccountSID string
	AuthToken  string
	From       string
	Outbox     *Outbox
	Logger     *zap.Logger
}

func (c *SimulatedCaller) Ready() error {
	if c.AccountSID == "" || c.AuthToken == "" || c.From == "" {
		return fmt.Errorf("call: %w", ErrCredentialsMissing)
	}
	return nil
}

func (c *SimulatedCaller) Call(ctx context.Context, to, script string) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if to == "" {
		return Receipt{}, fmt.Errorf("call: no destination number")
	}
	id := uuid.NewString()
	c.Outbox.record(Delivery{Channel: "call", To: to, Body: script, ID: id})
	logger(c.Logger).Info("call simulated", zap.String("to", to), zap.String("from", c.From))
	return Receipt{Status: StatusSimulated, ProviderID: id, From: c.From}, nil
}

// #endregion caller

func logger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
