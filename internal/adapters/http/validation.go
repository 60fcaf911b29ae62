package http

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/samirrijal/digitalmaps/internal/core/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON field names instead of Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	_ = v.RegisterValidation("timeofday", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseTimeOfDay(fl.Field().String())
		return err == nil
	})
	return v
}

// pointRequest is the body of create and update.
type pointRequest struct {
	Name      string  `json:"name" validate:"required,max=255"`
	Latitude  *int    `json:"latitude" validate:"required,min=-90,max=90"`
	Longitude *int    `json:"longitude" validate:"required,min=-180,max=180"`
	OpenHour  *string `json:"open_hour" validate:"required_with=CloseHour,omitempty,timeofday"`
	CloseHour *string `json:"close_hour" validate:"required_with=OpenHour,omitempty,timeofday"`
}

// toPoint converts a validated request. Hours are normalized to HH:MM:SS.
func (r *pointRequest) toPoint(id string) (*domain.Point, error) {
	open, err := domain.NormalizeHour(r.OpenHour)
	if err != nil {
		return nil, fmt.Errorf("open_hour: %w", err)
	}
	closing, err := domain.NormalizeHour(r.CloseHour)
	if err != nil {
		return nil, fmt.Errorf("close_hour: %w", err)
	}
	return &domain.Point{
		ID:        id,
		Name:      r.Name,
		Latitude:  *r.Latitude,
		Longitude: *r.Longitude,
		OpenHour:  open,
		CloseHour: closing,
	}, nil
}

// nearParams are the path parameters of the near query.
type nearParams struct {
	Latitude  int    `json:"latitude" validate:"min=-90,max=90"`
	Longitude int    `json:"longitude" validate:"min=-180,max=180"`
	Distance  int    `json:"distance" validate:"min=0,max=360"`
	Hour      string `json:"hour" validate:"required,datetime=15:04"`
}

// validationMessage flattens validator errors into one readable line.
func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "required_with":
			msgs = append(msgs, fe.Field()+" is required when "+fieldJSONName(fe.Param())+" is set")
		case "min", "max":
			msgs = append(msgs, fmt.Sprintf("%s must be %s %s", fe.Field(), boundWord(fe.Tag()), fe.Param()))
		case "timeofday":
			msgs = append(msgs, fe.Field()+" must be HH:MM or HH:MM:SS")
		case "datetime":
			msgs = append(msgs, fe.Field()+" must be HH:MM")
		case "uuid":
			msgs = append(msgs, fe.Field()+" must be a UUID")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func boundWord(tag string) string {
	if tag == "min" {
		return "at least"
	}
	return "at most"
}

// fieldJSONName turns a Go field name like CloseHour into close_hour.
func fieldJSONName(goName string) string {
	var b strings.Builder
	for i, r := range goName {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}
