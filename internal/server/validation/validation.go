// Package validation checks caller-supplied credentials before they reach the
// hashing and issuance code. Checks are fail-fast: the first violated rule is
// the only one reported.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/go-playground/validator/v10"
)

// Field names used in errors.
const (
	FieldUserName    = "username"
	FieldEmail       = "email"
	FieldDisplayName = "display_name"
	FieldPassword    = "password"
)

const (
	userNameTags    = "required,min=3,max=32,username"
	emailTags       = "required,max=254,email"
	displayNameTags = "max=64,printable"
	passwordTags    = "required,min=8,max=72,max_bytes=72,no_space,has_lower,has_upper,has_digit,has_special"
)

var userNameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]*$`)

// Error describes the single rule a value broke.
type Error struct {
	Field   string
	Rule    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Unwrap makes every validation error match common.ErrorBadRequest.
func (e *Error) Unwrap() error { return common.ErrorBadRequest }

// Registration is the input of account creation.
type Registration struct {
	UserName    string `json:"username" validate:"required,min=3,max=32,username"`
	Email       string `json:"email" validate:"required,max=254,email"`
	DisplayName string `json:"display_name" validate:"max=64,printable"`
	Password    string `json:"password" validate:"required,min=8,max=72,max_bytes=72,no_space,has_lower,has_upper,has_digit,has_special"`
}

// Validator is safe for concurrent use.
type Validator struct {
	v *validator.Validate
}

// New builds a Validator with the credential rules registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	must(v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return userNameRe.MatchString(fl.Field().String())
	}))
	must(v.RegisterValidation("printable", runeCheck(func(s string) bool {
		for _, r := range s {
			if !unicode.IsPrint(r) {
				return false
			}
		}
		return true
	})))
	must(v.RegisterValidation("no_space", runeCheck(func(s string) bool {
		return !strings.ContainsFunc(s, unicode.IsSpace)
	})))
	must(v.RegisterValidation("has_lower", runeCheck(containsAny(unicode.IsLower))))
	must(v.RegisterValidation("has_upper", runeCheck(containsAny(unicode.IsUpper))))
	must(v.RegisterValidation("has_digit", runeCheck(containsAny(unicode.IsDigit))))
	must(v.RegisterValidation("has_special", runeCheck(containsAny(isSpecial))))
	must(v.RegisterValidation("max_bytes", func(fl validator.FieldLevel) bool {
		n, err := strconv.Atoi(fl.Param())
		if err != nil {
			return false
		}
		return len(fl.Field().String()) <= n
	}))

	return &Validator{v: v}
}

// Registration checks every field of r in declaration order.
func (v *Validator) Registration(r Registration) error {
	return v.first(v.v.Struct(r), "")
}

// UserName checks a login name.
func (v *Validator) UserName(s string) error { return v.one(FieldUserName, s, userNameTags) }

// Email checks an email address.
func (v *Validator) Email(s string) error { return v.one(FieldEmail, s, emailTags) }

// DisplayName checks an optional display name.
func (v *Validator) DisplayName(s string) error { return v.one(FieldDisplayName, s, displayNameTags) }

// Password checks password strength.
func (v *Validator) Password(s string) error { return v.one(FieldPassword, s, passwordTags) }

func (v *Validator) one(field, value, tags string) error {
	return v.first(v.v.Var(value, tags), field)
}

func (v *Validator) first(err error, field string) error {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validation: %w", err)
	}

	fe := verrs[0]
	if field == "" {
		field = fe.Field()
	}
	return &Error{Field: field, Rule: fe.Tag(), Message: message(field, fe.Tag(), fe.Param())}
}

func message(field, rule, param string) string {
	switch rule {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, param)
	case "max_bytes":
		return fmt.Sprintf("%s must be at most %s bytes", field, param)
	case "email":
		return field + " must be a valid email address"
	case "username":
		return field + " must start with a letter and contain only letters, digits, '_', '.' or '-'"
	case "printable":
		return field + " must contain only printable characters"
	case "no_space":
		return field + " must not contain spaces"
	case "has_lower":
		return field + " must contain a lowercase letter"
	case "has_upper":
		return field + " must contain an uppercase letter"
	case "has_digit":
		return field + " must contain a digit"
	case "has_special":
		return field + " must contain a special character"
	default:
		return field + " is invalid"
	}
}

func runeCheck(ok func(string) bool) validator.Func {
	return func(fl validator.FieldLevel) bool { return ok(fl.Field().String()) }
}

func containsAny(class func(rune) bool) func(string) bool {
	return func(s string) bool { return strings.ContainsFunc(s, class) }
}

func isSpecial(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
