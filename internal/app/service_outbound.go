package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"leaddesk/api/internal/email"
	"leaddesk/api/internal/leads"
	"leaddesk/api/internal/store"
	"leaddesk/api/internal/timeline"
	"leaddesk/api/internal/whatsapp"
)

// SendEmail mails the lead and records the message as outbound
// correspondence.
func (s *Service) SendEmail(ctx context.Context, session Session, id string, input leads.SendEmailInput) (timeline.Interaction, error) {
	if err := leads.Validate(input); err != nil {
		return timeline.Interaction{}, err
	}
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return timeline.Interaction{}, email.ErrNotConfigured
	}
	ref, lead, err := s.loadLead(ctx, id)
	if err != nil {
		return timeline.Interaction{}, err
	}
	if strings.TrimSpace(lead.Email) == "" {
		return timeline.Interaction{}, domainError(http.StatusUnprocessableEntity, "LEAD_HAS_NO_EMAIL", "Lead has no email address", nil)
	}

	sent, err := s.mailer.Send(email.Message{
		To:       lead.Email,
		ToName:   lead.Name,
		Subject:  input.Subject,
		Body:     input.Body,
		Agent:    session.UserName,
		LeadName: lead.Name,
	})
	if err != nil {
		if errors.Is(err, email.ErrNotConfigured) {
			return timeline.Interaction{}, err
		}
		return timeline.Interaction{}, domainError(http.StatusBadGateway, "EMAIL_SEND_FAILED", "Email could not be sent", nil)
	}

	row := store.LeadEmail{
		LeadID:      ref.ID,
		MessageID:   sent.MessageID,
		Direction:   "outbound",
		Subject:     sent.Subject,
		BodyText:    sent.Text,
		BodyHTML:    sent.HTML,
		FromAddress: sent.From,
		ToAddress:   sent.To,
		SentAt:      sent.SentAt,
	}
	row.ID, err = s.store.InsertLeadEmail(ctx, row)
	if err != nil {
		return timeline.Interaction{}, err
	}

	items := timeline.NormalizeEmails(ref.ID, []store.LeadEmail{row})
	s.afterWrite(ctx, ref.ID, items...)
	return firstOrEmpty(items), nil
}

// SendWhatsApp messages the lead through the gateway and records the
// outbound message.
func (s *Service) SendWhatsApp(ctx context.Context, session Session, id string, input leads.SendWhatsAppInput) (timeline.Interaction, error) {
	input.Body = strings.TrimSpace(input.Body)
	if err := leads.Validate(input); err != nil {
		return timeline.Interaction{}, err
	}
	if s.whatsapp == nil || !s.whatsapp.Configured() {
		return timeline.Interaction{}, whatsapp.ErrNotConfigured
	}
	ref, lead, err := s.loadLead(ctx, id)
	if err != nil {
		return timeline.Interaction{}, err
	}
	if strings.TrimSpace(lead.Phone) == "" {
		return timeline.Interaction{}, domainError(http.StatusUnprocessableEntity, "LEAD_HAS_NO_PHONE", "Lead has no phone number", nil)
	}

	result, err := s.whatsapp.Send(ctx, lead.Phone, input.Body)
	if err != nil {
		if errors.Is(err, whatsapp.ErrNotConfigured) {
			return timeline.Interaction{}, err
		}
		return timeline.Interaction{}, domainError(http.StatusBadGateway, "WHATSAPP_SEND_FAILED", "WhatsApp message could not be sent", nil)
	}

	status := result.Status
	if status == "" {
		status = "sent"
	}
	row := store.WhatsAppMessage{
		LeadID:      ref.ID,
		WAMessageID: result.ID,
		Direction:   "outbound",
		Phone:       lead.Phone,
		ContactName: lead.Name,
		Body:        input.Body,
		Status:      status,
		SentAt:      s.now().UTC(),
	}
	row.ID, err = s.store.InsertWhatsAppMessage(ctx, row)
	if err != nil {
		return timeline.Interaction{}, err
	}

	items := timeline.NormalizeWhatsApp(ref.ID, []store.WhatsAppMessage{row})
	s.afterWrite(ctx, ref.ID, items...)
	return firstOrEmpty(items), nil
}

func firstOrEmpty(items []timeline.Interaction) timeline.Interaction {
	if len(items) == 0 {
		return timeline.Interaction{}
	}
	return items[0]
}
