// Package rowvalid validates a single imported staff row and normalizes it
// into a clean provider record. All rules are evaluated; violations are
// collected into a field-level error list rather than short-circuited.
package rowvalid

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"apptdesk/pkg/csvcodec"
	"apptdesk/pkg/models"
)

var phoneChars = regexp.MustCompile(`^[0-9()+\- ]+$`)

// Columns is the fixed column order for provider import/export.
var Columns = []string{
	"firstName", "lastName", "email", "phone", "jobTitle", "department",
	"employmentType", "status", "startDate", "endDate", "photoUrl",
}

var dateLayouts = []string{models.DateLayout, "01/02/2006", time.RFC3339}

type Result struct {
	Valid  bool
	RowNum int
	Data   models.Provider
	Errors []models.FieldError
}

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("csv")
	})
	_ = v.RegisterValidation("phonechars", func(fl validator.FieldLevel) bool {
		return phoneChars.MatchString(fl.Field().String())
	})
	return &Validator{validate: v}
}

type rowInput struct {
	FirstName      string `csv:"firstName" validate:"required"`
	LastName       string `csv:"lastName" validate:"required"`
	Email          string `csv:"email" validate:"omitempty,email"`
	Phone          string `csv:"phone" validate:"omitempty,phonechars"`
	JobTitle       string `csv:"jobTitle"`
	Department     string `csv:"department"`
	EmploymentType string `csv:"employmentType" validate:"omitempty,oneof=Full-time Part-time Contract Intern Consultant"`
	Status         string `csv:"status" validate:"omitempty,oneof=Active Inactive 'On Leave' Terminated"`
	StartDate      string `csv:"startDate"`
	EndDate        string `csv:"endDate"`
	PhotoURL       string `csv:"photoUrl"`
}

// Validate checks one row and either returns the normalized provider record
// or every field-level violation found.
func (v *Validator) Validate(row csvcodec.Row, rowNum int) Result {
	in := rowInput{
		FirstName:      strings.TrimSpace(row["firstName"]),
		LastName:       strings.TrimSpace(row["lastName"]),
		Email:          strings.TrimSpace(row["email"]),
		Phone:          strings.TrimSpace(row["phone"]),
		JobTitle:       strings.TrimSpace(row["jobTitle"]),
		Department:     strings.TrimSpace(row["department"]),
		EmploymentType: strings.TrimSpace(row["employmentType"]),
		Status:         strings.TrimSpace(row["status"]),
		StartDate:      strings.TrimSpace(row["startDate"]),
		EndDate:        strings.TrimSpace(row["endDate"]),
		PhotoURL:       strings.TrimSpace(row["photoUrl"]),
	}

	var fieldErrs []models.FieldError
	if err := v.validate.Struct(in); err != nil {
		for _, fe := range err.(validator.ValidationErrors) {
			fieldErrs = append(fieldErrs, models.FieldError{Field: fe.Field(), Message: message(fe)})
		}
	}

	start, err := parseDate(in.StartDate)
	if err != nil {
		fieldErrs = append(fieldErrs, models.FieldError{Field: "startDate", Message: "must be a valid date"})
	}
	end, err := parseDate(in.EndDate)
	switch {
	case err != nil:
		fieldErrs = append(fieldErrs, models.FieldError{Field: "endDate", Message: "must be a valid date"})
	case start != nil && end != nil && end.Before(*start):
		fieldErrs = append(fieldErrs, models.FieldError{Field: "endDate", Message: "must not precede startDate"})
	}

	if len(fieldErrs) > 0 {
		return Result{RowNum: rowNum, Errors: fieldErrs}
	}

	p := models.Provider{
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		Email:          optional(in.Email),
		Phone:          optional(in.Phone),
		JobTitle:       optional(in.JobTitle),
		Department:     optional(in.Department),
		EmploymentType: models.EmploymentType(in.EmploymentType),
		Status:         models.ProviderStatus(in.Status),
		PhotoURL:       optional(in.PhotoURL),
	}
	if p.EmploymentType == "" {
		p.EmploymentType = models.EmploymentFullTime
	}
	if p.Status == "" {
		p.Status = models.StatusActive
	}
	p.Active = p.Status == models.StatusActive
	if start != nil {
		p.StartDate = optional(start.Format(time.RFC3339))
	}
	if end != nil {
		p.EndDate = optional(end.Format(time.RFC3339))
	}
	return Result{Valid: true, RowNum: rowNum, Data: p}
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "phonechars":
		return "may only contain digits, spaces, parentheses, plus and hyphens"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	}
	return "is invalid"
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unparsable date %q", s)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
