// Package dispatch delivers response actions to store staff: in-store voice
// announcements, email and phone calls.
package dispatch

import (
	"context"
	"errors"
)

// ErrCredentialsMissing is returned by Ready when a provider is not configured.
var ErrCredentialsMissing = errors.New("credentials missing")

// #region types

// Receipt is what a provider reports back for one delivery.
type Receipt struct {
	Status     string
	ProviderID string
	From       string
	StatusCode int
}

// Email is one outgoing message.
type Email struct {
	To      string
	Subject string
	Body    string
}

// #endregion types

// #region interfaces

// Announcer plays a text-to-speech announcement over the store PA.
type Announcer interface {
	Ready() error
	Announce(ctx context.Context, text string) (Receipt, error)
}

// Mailer sends email.
type Mailer interface {
	Ready() error
	Send(ctx context.Context, msg Email) (Receipt, error)
}

// Caller places an automated phone call that reads script aloud.
type Caller interface {
	Ready() error
	Call(ctx context.Context, to, script string) (Receipt, error)
}

// #endregion interfaces
