package race

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"

	"motoreg-bot/internal/models"
	"motoreg-bot/internal/util"
)

// Candidate is a registration request before it becomes a Participant.
type Candidate struct {
	FullName   string `json:"fullName" validate:"required"`
	MotoNumber string `json:"motoNumber" validate:"required"`
	Category   string `json:"category" validate:"required,category"`
	Phone      string `json:"phone" validate:"required"`
	Residence  string `json:"residence" validate:"required"`
	TgID       int64  `json:"-"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		_, err := ParseCategory(fl.Field().String())
		return err == nil
	})
	return v
}

func (c Candidate) trimmed() Candidate {
	c.FullName = strings.TrimSpace(c.FullName)
	c.MotoNumber = NormalizeNumber(c.MotoNumber)
	c.Category = strings.TrimSpace(c.Category)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Residence = strings.TrimSpace(c.Residence)
	return c
}

// Validate checks the required fields (blank counts as missing) and the
// category name.
func (c Candidate) Validate() error {
	err := validate.Struct(c.trimmed())
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		out.Fields[fe.Field()] = fe.Tag()
	}
	return out
}

// fold builds a new Caser per call; Casers are not safe for concurrent use.
func fold(s string) string { return cases.Fold().String(strings.TrimSpace(s)) }

// FindByAccessCode returns the first holder of code in ps. With ps
// most-recent-first that is the most recently registered holder.
func FindByAccessCode(ps []models.Participant, code string) (models.Participant, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return models.Participant{}, false
	}
	for _, p := range ps {
		if p.AccessCode == code {
			return p, true
		}
	}
	return models.Participant{}, false
}

// HoldersOfAccessCode lists every participant sharing code.
func HoldersOfAccessCode(ps []models.Participant, code string) []models.Participant {
	var out []models.Participant
	for _, p := range ps {
		if p.AccessCode == code {
			out = append(out, p)
		}
	}
	return out
}

// FindByNameAndPhone is the code-recovery lookup: names compare trimmed and
// case-folded, phones compare by their digits only.
func FindByNameAndPhone(ps []models.Participant, name, phone string) (models.Participant, bool) {
	name = fold(name)
	digits := util.Digits(phone)
	if name == "" || digits == "" {
		return models.Participant{}, false
	}
	for _, p := range ps {
		if fold(p.FullName) == name && util.Digits(p.Phone) == digits {
			return p, true
		}
	}
	return models.Participant{}, false
}

func findByID(ps []models.Participant, id string) (models.Participant, bool) {
	for _, p := range ps {
		if p.ID == id {
			return p, true
		}
	}
	return models.Participant{}, false
}
