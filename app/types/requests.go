package types

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError turns the first failed rule into a message a caller can act on.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "gt":
		return fmt.Errorf("%s must be > %s", fe.Field(), fe.Param())
	case "len":
		return fmt.Errorf("%s must be %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Errorf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "alpha":
		return fmt.Errorf("%s must contain letters only", fe.Field())
	default:
		return fmt.Errorf("%s is invalid", fe.Field())
	}
}

func NewTapRequestFromContext(ctx echo.Context) (*TapRequest, error) {
	var body TapRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Normalize()
	return &body, nil
}

// Normalize trims identifiers and upper-cases the currency.
func (r *TapRequest) Normalize() {
	r.CardId = strings.TrimSpace(r.CardId)
	r.TerminalId = strings.TrimSpace(r.TerminalId)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
}

func (r *TapRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

func NewGetTransactionRequestFromContext(ctx echo.Context) (*GetTransactionRequest, error) {
	return &GetTransactionRequest{Id: strings.TrimSpace(ctx.Param("id"))}, nil
}

func (r *GetTransactionRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

func NewCancelTransactionRequestFromContext(ctx echo.Context) (*CancelTransactionRequest, error) {
	var body CancelTransactionRequest
	if err := ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	body.Id = strings.TrimSpace(ctx.Param("id"))
	body.Reason = strings.TrimSpace(body.Reason)
	return &body, nil
}

func (r *CancelTransactionRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}

func NewStreamEventsRequestFromContext(ctx echo.Context) (*StreamEventsRequest, error) {
	return &StreamEventsRequest{UserId: strings.TrimSpace(ctx.Param("id"))}, nil
}

func (r *StreamEventsRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return validationError(err)
	}
	return nil
}
