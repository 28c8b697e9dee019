package clients

import (
	"strings"
	"time"
)

// Client is a customer that places orders.
type Client struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CPF       string    `json:"cpf"`
	Phone     string    `json:"phone"`
	Company   string    `json:"company"`
	Address   string    `json:"address"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type NewClient struct {
	Name    string
	Email   string
	CPF     string
	Phone   string
	Company string
	Address string
}

// ClientUpdate is a partial update; nil fields are kept.
type ClientUpdate struct {
	Name    *string
	Email   *string
	CPF     *string
	Phone   *string
	Company *string
	Address *string
}

// Empty reports whether the update changes nothing.
func (u ClientUpdate) Empty() bool {
	return u.Name == nil && u.Email == nil && u.CPF == nil && u.Phone == nil &&
		u.Company == nil && u.Address == nil
}

// ClientFilter narrows a listing. Search matches name or email.
type ClientFilter struct {
	Search          string
	IncludeInactive bool
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
