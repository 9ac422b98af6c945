package services

import (
	"strings"

	"agent-mail/domain"
	mailerrors "agent-mail/errors"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	err := v.RegisterValidation("handle", func(fl validator.FieldLevel) bool {
		return domain.IsValidHandle(fl.Field().String())
	})
	if err != nil {
		panic(err)
	}
	return v
}

type SendRequest struct {
	From    string   `validate:"required,handle"`
	To      []string `validate:"required,min=1,dive,handle"`
	Subject string   `validate:"required,max=200"`
	Body    string   `validate:"required,max=10000"`
	Tags    []string `validate:"omitempty,dive,handle"`
}

// ValidateSend normalizes and checks a send or broadcast request:
// subject trimmed, recipients deduplicated in order, body non-blank.
func ValidateSend(req *SendRequest) error {
	req.Subject = strings.TrimSpace(req.Subject)
	req.To = lo.Uniq(req.To)
	if strings.TrimSpace(req.Body) == "" {
		return mailerrors.Validation("body must not be blank")
	}
	if err := validate.Struct(req); err != nil {
		return mailerrors.Validation("%s", err)
	}
	return nil
}

type ReplyRequest struct {
	Actor     string   `validate:"required,handle"`
	MessageID string   `validate:"required"`
	Body      string   `validate:"required,max=10000"`
	Tags      []string `validate:"omitempty,dive,handle"`
}

func ValidateReply(req *ReplyRequest) error {
	if strings.TrimSpace(req.Body) == "" {
		return mailerrors.Validation("body must not be blank")
	}
	if err := validate.Struct(req); err != nil {
		return mailerrors.Validation("%s", err)
	}
	return nil
}

type ThreadRequest struct {
	Actor    string `validate:"required,handle"`
	ThreadID string `validate:"required"`
}

func ValidateThread(req ThreadRequest) error {
	if err := validate.Struct(req); err != nil {
		return mailerrors.Validation("%s", err)
	}
	return nil
}

type MetadataRequest struct {
	Actor    string `validate:"required,handle"`
	ThreadID string `validate:"required"`
	Key      string `validate:"required,max=200"`
}

func ValidateMetadata(req *MetadataRequest) error {
	req.Key = strings.TrimSpace(req.Key)
	if err := validate.Struct(req); err != nil {
		return mailerrors.Validation("%s", err)
	}
	return nil
}

type AddContactRequest struct {
	Actor       string   `validate:"required,handle"`
	Handle      string   `validate:"required,handle"`
	DisplayName string   `validate:"omitempty,max=200"`
	Description string   `validate:"omitempty,max=2000"`
	Tags        []string `validate:"omitempty,dive,handle"`
}

func ValidateAddContact(req AddContactRequest) error {
	if err := validate.Struct(req); err != nil {
		return mailerrors.Validation("%s", err)
	}
	return nil
}

type UpdateContactRequest struct {
	Actor           string    `validate:"required,handle"`
	Handle          string    `validate:"required,handle"`
	ExpectedVersion int64     `validate:"min=1"`
	DisplayName     *string   `validate:"omitempty,max=200"`
	Description     *string   `validate:"omitempty,max=2000"`
	Tags            *[]string `validate:"omitempty,dive,handle"`
}

func ValidateUpdateContact(req UpdateContactRequest) error {
	if err := validate.Struct(req); err != nil {
		return mailerrors.Validation("%s", err)
	}
	return nil
}
