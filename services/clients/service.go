package clients

import (
	"context"
	"net/mail"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stockroom-labs/stockroom/internal/apperr"
	"github.com/stockroom-labs/stockroom/internal/database"
	"github.com/stockroom-labs/stockroom/internal/web"
)

type Service struct {
	repository Repository
}

// NewService wires the client use cases.
func NewService(repository Repository) *Service {
	return &Service{repository: repository}
}

// Register creates a client. Email and CPF must be unique.
func (s *Service) Register(ctx context.Context, nc NewClient) (*Client, error) {
	nc.Name = strings.TrimSpace(nc.Name)
	nc.Email = normalizeEmail(nc.Email)
	if err := validateName(nc.Name); err != nil {
		return nil, err
	}
	if err := validateEmail(nc.Email); err != nil {
		return nil, err
	}
	if !web.ValidCPF(nc.CPF) {
		return nil, apperr.Invalid("cpf", "must be a valid CPF formatted as 000.000.000-00")
	}

	c, err := s.repository.CreateClient(ctx, nc)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Int64("client_id", c.ID).Msg("[CLIENTS] client registered")
	return c, nil
}

// Get returns a client. Inactive clients are reported as not found unless includeInactive.
func (s *Service) Get(ctx context.Context, clientID int64, includeInactive bool) (*Client, error) {
	c, err := s.repository.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !database.Visible(c.IsActive, includeInactive) {
		return nil, apperr.NotFound("client", clientID)
	}
	return c, nil
}

// List returns clients matching filter.
func (s *Service) List(ctx context.Context, filter ClientFilter, page database.Page) ([]Client, error) {
	return s.repository.ListClients(ctx, filter, page.Normalize())
}

// Update applies a partial update to an active client.
func (s *Service) Update(ctx context.Context, clientID int64, update ClientUpdate) (*Client, error) {
	if update.Empty() {
		return s.Get(ctx, clientID, false)
	}
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if err := validateName(name); err != nil {
			return nil, err
		}
		update.Name = &name
	}
	if update.Email != nil {
		email := normalizeEmail(*update.Email)
		if err := validateEmail(email); err != nil {
			return nil, err
		}
		update.Email = &email
	}
	if update.CPF != nil && !web.ValidCPF(*update.CPF) {
		return nil, apperr.Invalid("cpf", "must be a valid CPF formatted as 000.000.000-00")
	}
	return s.repository.UpdateClient(ctx, clientID, update)
}

// SoftDelete deactivates the client. Existing orders are kept; new ones are refused.
func (s *Service) SoftDelete(ctx context.Context, clientID int64) error {
	if err := s.repository.DeactivateClient(ctx, clientID); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Int64("client_id", clientID).Msg("[CLIENTS] client deactivated")
	return nil
}

func validateName(name string) error {
	if name == "" {
		return apperr.Invalid("name", "must not be empty")
	}
	return nil
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return apperr.Invalid("email", "must be a valid address")
	}
	return nil
}
