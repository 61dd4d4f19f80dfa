package leads

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"leaddesk/api/internal/store"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type ManualInteractionInput struct {
	Kind       string     `json:"kind" validate:"required,oneof=email whatsapp call note"`
	Direction  string     `json:"direction" validate:"omitempty,oneof=inbound outbound internal"`
	Subject    string     `json:"subject" validate:"max=300"`
	Content    string     `json:"content" validate:"required,max=20000"`
	OccurredAt *time.Time `json:"occurredAt"`
}

type StageChangeInput struct {
	Stage  string `json:"stage" validate:"required,max=64"`
	Reason string `json:"reason" validate:"max=1000"`
}

type SendEmailInput struct {
	Subject string `json:"subject" validate:"required,max=300"`
	Body    string `json:"body" validate:"required"`
}

type SendWhatsAppInput struct {
	Body string `json:"body" validate:"required,max=4096"`
}

// FieldError is a single failed validation rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// ValidationError carries every failed rule of one input.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Rule)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Validate checks an input struct against its validate tags.
func Validate(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Field: lowerFirst(fe.Field()),
			Rule:  fe.Tag(),
			Param: fe.Param(),
		})
	}
	return out
}

// BuildManualInteraction validates input and produces the row to persist.
// A missing timestamp means now.
func BuildManualInteraction(input ManualInteractionInput, author string, now time.Time) (store.ManualInteraction, error) {
	input.Kind = strings.ToLower(strings.TrimSpace(input.Kind))
	input.Direction = strings.ToLower(strings.TrimSpace(input.Direction))
	input.Content = strings.TrimSpace(input.Content)
	if err := Validate(input); err != nil {
		return store.ManualInteraction{}, err
	}
	occurredAt := now.UTC()
	if input.OccurredAt != nil && !input.OccurredAt.IsZero() {
		occurredAt = input.OccurredAt.UTC()
	}
	direction := input.Direction
	if direction == "" {
		direction = "internal"
		if input.Kind != "note" {
			direction = "outbound"
		}
	}
	return store.ManualInteraction{
		Type:       input.Kind,
		Direction:  direction,
		Subject:    strings.TrimSpace(input.Subject),
		Content:    input.Content,
		Author:     author,
		OccurredAt: occurredAt,
	}, nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
