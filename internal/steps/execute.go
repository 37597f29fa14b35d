package steps

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/dispatch"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/pipeline"
)

// CredentialsMissing is the error recorded when a channel is unconfigured.
const CredentialsMissing = "Credentials missing"

const (
	defaultEmailSubject = "Incident Alert"
	defaultCallScript   = "This is an automated alert regarding an incident at your store."
)

// #region gate

// shouldDispatch reports whether ch is enabled, execution is not blocked, and
// the channel has not already been attempted in this run.
func shouldDispatch(st *incident.State, ch incident.Channel) bool {
	if st.ExecutionBlocked || st.ExecutionActions.State(ch) != incident.ChannelEnabled {
		return false
	}
	_, attempted := st.ExecutionResults[ch]
	return !attempted
}

// fail records a failed attempt on ch.
func fail(st *incident.State, ch incident.Channel, tag string, err error) {
	msg := err.Error()
	if errors.Is(err, dispatch.ErrCredentialsMissing) {
		msg = CredentialsMissing
	}
	st.RecordResult(ch, incident.ActionResult{Status: incident.StatusFailed, Error: msg})
	st.TraceError(tag, err)
}

// ready checks a provider's credentials; a nil provider is unconfigured.
func ready(p interface{ Ready() error }) error {
	if p == nil {
		return dispatch.ErrCredentialsMissing
	}
	return p.Ready()
}

// #endregion gate

// #region voice

// Voice plays the in-store announcement.
func (s *Steps) Voice(ctx context.Context, st *incident.State) pipeline.Control {
	if !shouldDispatch(st, incident.ChannelAnnounce) {
		return pipeline.Continue
	}
	log := s.log(st, pipeline.NodeVoice)
	action := st.ExecutionActions.Announce

	if err := ready(s.deps.Announcer); err != nil {
		log.Error("announcer not configured", zap.Error(err))
		fail(st, incident.ChannelAnnounce, "VOICE", err)
		return pipeline.Continue
	}
	receipt, err := s.deps.Announcer.Announce(ctx, action.Text)
	if err != nil {
		log.Error("announcement failed", zap.Error(err))
		fail(st, incident.ChannelAnnounce, "VOICE", err)
		return pipeline.Continue
	}
	st.RecordResult(incident.ChannelAnnounce, incident.ActionResult{
		Status:     receipt.Status,
		Text:       action.Text,
		ProviderID: receipt.ProviderID,
	})
	st.Trace("Voice announcement %s", receipt.Status)
	log.Info("announcement dispatched", zap.String("status", receipt.Status))
	return pipeline.Continue
}

// #endregion voice

// #region email

// Email notifies the store contact, or the address the action names.
func (s *Steps) Email(ctx context.Context, st *incident.State) pipeline.Control {
	if !shouldDispatch(st, incident.ChannelEmail) {
		return pipeline.Continue
	}
	log := s.log(st, pipeline.NodeEmail)
	action := st.ExecutionActions.Email

	if err := ready(s.deps.Mailer); err != nil {
		log.Error("mailer not configured", zap.Error(err))
		fail(st, incident.ChannelEmail, "EMAIL", err)
		return pipeline.Continue
	}
	to := action.To
	if to == "" {
		var ok bool
		if to, ok = s.deps.Contacts.Lookup(st.StoreID, dispatch.ContactEmail); !ok {
			fail(st, incident.ChannelEmail, "EMAIL", fmt.Errorf("no email contact for store %q", st.StoreID))
			return pipeline.Continue
		}
	}
	subject := action.Subject
	if subject == "" {
		subject = defaultEmailSubject
	}

	receipt, err := s.deps.Mailer.Send(ctx, dispatch.Email{To: to, Subject: subject, Body: action.Body})
	if err != nil {
		log.Error("email failed", zap.Error(err))
		fail(st, incident.ChannelEmail, "EMAIL", err)
		return pipeline.Continue
	}
	st.RecordResult(incident.ChannelEmail, incident.ActionResult{
		Status:     receipt.Status,
		To:         to,
		From:       receipt.From,
		Subject:    subject,
		ProviderID: receipt.ProviderID,
		StatusCode: receipt.StatusCode,
	})
	st.Trace("Email %s to %s", receipt.Status, to)
	log.Info("email dispatched", zap.String("status", receipt.Status))
	return pipeline.Continue
}

// #endregion email

// #region call

// Call phones the store contact and reads the script, prefixed by its subject.
func (s *Steps) Call(ctx context.Context, st *incident.State) pipeline.Control {
	if !shouldDispatch(st, incident.ChannelCall) {
		return pipeline.Continue
	}
	log := s.log(st, pipeline.NodeCall)
	action := st.ExecutionActions.Call

	if err := ready(s.deps.Caller); err != nil {
		log.Error("caller not configured", zap.Error(err))
		fail(st, incident.ChannelCall, "CALL", err)
		return pipeline.Continue
	}
	to := action.To
	if to == "" {
		var ok bool
		if to, ok = s.deps.Contacts.Lookup(st.StoreID, dispatch.ContactPhone); !ok {
			fail(st, incident.ChannelCall, "CALL", fmt.Errorf("no phone contact for store %q", st.StoreID))
			return pipeline.Continue
		}
	}
	script := action.Script
	if script == "" {
		script = defaultCallScript
	}
	if action.Subject != "" {
		script = action.Subject + ". " + script
	}

	receipt, err := s.deps.Caller.Call(ctx, to, script)
	if err != nil {
		log.Error("call failed", zap.Error(err))
		fail(st, incident.ChannelCall, "CALL", err)
		return pipeline.Continue
	}
	st.RecordResult(incident.ChannelCall, incident.ActionResult{
		Status:     receipt.Status,
		To:         to,
		From:       receipt.From,
		Subject:    action.Subject,
		ProviderID: receipt.ProviderID,
	})
	st.Trace("Call %s to %s", receipt.Status, to)
	log.Info("call dispatched", zap.String("status", receipt.Status))
	return pipeline.Continue
}

// #endregion call
