package account

import (
	"errors"
	"strings"

	"github.com/docai/escalation/internal/platform/auth"
	"github.com/docai/escalation/pkg/wire"
)

var (
	ErrNotFound = errors.New("account not found")
	ErrExists   = errors.New("account already registered")
)

// Account is a registered patient or clinician. ID is the identity
// provider's subject.
type Account struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Email          string         `json:"email,omitempty"`
	Role           string         `json:"role"`
	Phone          string         `json:"phone,omitempty"`
	BloodGroup     string         `json:"bloodGroup,omitempty"`
	Age            *int           `json:"age,omitempty"`
	Specialization string         `json:"specialization,omitempty"`
	CreatedAt      wire.Timestamp `json:"createdAt"`
}

// SignupRequest is the body of POST /auth/signup.
type SignupRequest struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	Phone          string `json:"phone"`
	BloodGroup     string `json:"bloodGroup"`
	Age            *int   `json:"age"`
	Specialization string `json:"specialization"`
}

func (r *SignupRequest) Validate() error {
	r.ID = strings.TrimSpace(r.ID)
	r.Name = strings.TrimSpace(r.Name)
	r.Role = strings.ToLower(strings.TrimSpace(r.Role))
	switch {
	case r.ID == "":
		return wire.Missing("Account", "id")
	case r.Name == "":
		return wire.Missing("Account", "name")
	case !auth.ValidUserRole(r.Role):
		return wire.Invalid("Account", "role", "must be %q or %q", auth.RolePatient, auth.RoleDoctor)
	case r.Age != nil && (*r.Age < 0 || *r.Age > 150):
		return wire.Invalid("Account", "age", "out of range: %d", *r.Age)
	}
	return nil
}

// Account builds the stored form. Patient-only and doctor-only attributes are
// dropped for the other role.
func (r SignupRequest) Account() *Account {
	a := &Account{
		ID:    r.ID,
		Name:  r.Name,
		Email: strings.TrimSpace(r.Email),
		Role:  r.Role,
		Phone: strings.TrimSpace(r.Phone),
	}
	if r.Role == auth.RolePatient {
		a.BloodGroup = strings.TrimSpace(r.BloodGroup)
		a.Age = r.Age
	} else {
		a.Specialization = strings.TrimSpace(r.Specialization)
	}
	return a
}

// LoginResponse is the body of POST /auth/login.
type LoginResponse struct {
	Success  bool     `json:"success"`
	UserType string   `json:"userType"`
	User     *Account `json:"user"`
	UID      string   `json:"uid"`
}
