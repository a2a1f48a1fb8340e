package access

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

var ErrInvalidSettings = errors.New("invalid access settings")

// Settings is what a report owner submits to SetPolicy. Unset IsPublic means
// private: a half-filled form never opens a report by accident.
type Settings struct {
	IsPublic           *bool      `json:"is_public,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	AccessPassword     *string    `json:"access_password,omitempty"`
	AllowedEmails      []string   `json:"allowed_emails,omitempty"`
	MaxAccessCount     *int64     `json:"max_access_count,omitempty"`
	CurrentAccessCount *int64     `json:"current_access_count,omitempty"`
}

func (s Settings) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.AccessPassword, validation.NilOrNotEmpty),
		validation.Field(&s.AllowedEmails, validation.Each(validation.Required, is.EmailFormat)),
		validation.Field(&s.MaxAccessCount, validation.Min(int64(0))),
		validation.Field(&s.CurrentAccessCount, validation.Min(int64(0))),
	)
}

// Policy converts validated settings into a fresh snapshot.
func (s Settings) Policy() *Policy {
	p := &Policy{}
	if s.IsPublic != nil {
		p.IsPublic = *s.IsPublic
	}
	if s.CurrentAccessCount != nil {
		p.CurrentAccessCount = *s.CurrentAccessCount
	}
	if s.ExpiresAt != nil {
		t := s.ExpiresAt.UTC()
		p.ExpiresAt = &t
	}
	if s.AccessPassword != nil {
		pw := *s.AccessPassword
		p.AccessPassword = &pw
	}
	if len(s.AllowedEmails) > 0 {
		p.AllowedEmails = append([]string(nil), s.AllowedEmails...)
	}
	if s.MaxAccessCount != nil {
		n := *s.MaxAccessCount
		p.MaxAccessCount = &n
	}
	return p
}
