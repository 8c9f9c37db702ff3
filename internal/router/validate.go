package router

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// requestValidator checks author and body fields. Lengths come from
// configuration, so the rules are built as validator tag strings once
// and applied with Var.
type requestValidator struct {
	validate  *validator.Validate
	authorTag string
	bodyTag   string
}

func newRequestValidator(opts Options) *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	}); err != nil {
		// Only an empty tag or nil func can fail here.
		panic(err)
	}

	return &requestValidator{
		validate:  v,
		authorTag: fmt.Sprintf("required,min=%d,max=%d,username", opts.UsernameMinLength, opts.UsernameMaxLength),
		bodyTag:   fmt.Sprintf("max=%d", opts.MessageMaxLength),
	}
}

// author trims and validates a username.
func (rv *requestValidator) author(raw string) (string, error) {
	author := strings.TrimSpace(raw)
	if err := rv.validate.Var(author, rv.authorTag); err != nil {
		return "", toFieldError("author", err)
	}
	return author, nil
}

// body validates a message body. Emptiness is judged after trimming and
// length on the text as sent; the trimmed text is what gets stored.
func (rv *requestValidator) body(raw string) (string, error) {
	body := strings.TrimSpace(raw)
	if err := rv.validate.Var(body, "required"); err != nil {
		return "", toFieldError("body", err)
	}
	if err := rv.validate.Var(raw, rv.bodyTag); err != nil {
		return "", toFieldError("body", err)
	}
	return body, nil
}

func toFieldError(field string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Field: field, Reason: err.Error()}
	}

	fe := verrs[0]
	var reason string
	switch fe.Tag() {
	case "required":
		reason = "must not be empty"
	case "min":
		reason = fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		reason = fmt.Sprintf("must be at most %s characters", fe.Param())
	case "username":
		reason = "may only contain letters, digits and underscores"
	default:
		reason = fmt.Sprintf("failed %q check", fe.Tag())
	}
	return &ValidationError{Field: field, Reason: reason}
}
