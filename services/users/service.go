package users

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/stockroom-labs/stockroom/internal/apperr"
)

type Service struct {
	repository Repository
	hasher     *PasswordHasher
	tokens     *JWTManager
}

// NewService wires the account use cases.
func NewService(repository Repository, hasher *PasswordHasher, tokens *JWTManager) *Service {
	return &Service{repository: repository, hasher: hasher, tokens: tokens}
}

// Register creates an ordinary user. Superusers come from Bootstrap or SetSuperuser.
func (s *Service) Register(ctx context.Context, nu NewUser) (*User, error) {
	return s.create(ctx, nu, false)
}

func (s *Service) create(ctx context.Context, nu NewUser, superuser bool) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(nu.Email))
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, apperr.Invalid("email", "must be a valid address")
	}
	if len(nu.Password) < MinPasswordLength {
		return nil, apperr.Invalid("password", "must be at least 8 characters")
	}
	if len(nu.Password) > MaxPasswordLength {
		return nil, apperr.Invalid("password", "must be at most 72 bytes")
	}

	hash, err := s.hasher.Hash(nu.Password)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "hash password")
	}

	u := &User{
		Email:          email,
		HashedPassword: hash,
		Name:           strings.TrimSpace(nu.Name),
		Phone:          nu.Phone,
		IsSuperuser:    superuser,
	}
	if err := s.repository.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Int64("user_id", u.ID).Bool("superuser", superuser).Msg("[USERS] user registered")
	return u, nil
}

// Login checks the credentials and issues an access token. Unknown emails, wrong passwords
// and inactive accounts all fail the same way.
func (s *Service) Login(ctx context.Context, email, password string) (*Token, error) {
	u, err := s.repository.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	var notFound *apperr.NotFoundError
	if errors.As(err, &notFound) {
		return nil, apperr.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive || !s.hasher.Verify(password, u.HashedPassword) {
		return nil, apperr.ErrUnauthorized
	}

	token, err := s.tokens.Generate(u)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "sign token")
	}
	return &Token{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(s.tokens.TTL().Seconds()),
	}, nil
}

// Authenticate resolves a bearer token to an active user.
func (s *Service) Authenticate(ctx context.Context, token string) (*User, error) {
	userID, err := s.tokens.Validate(token)
	if err != nil {
		return nil, err
	}
	u, err := s.repository.GetUser(ctx, userID)
	var notFound *apperr.NotFoundError
	if errors.As(err, &notFound) {
		return nil, apperr.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, apperr.ErrUnauthorized
	}
	return u, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, userID int64) (*User, error) {
	return s.repository.GetUser(ctx, userID)
}

// SetSuperuser grants or revokes admin rights.
func (s *Service) SetSuperuser(ctx context.Context, userID int64, superuser bool) (*User, error) {
	u, err := s.repository.SetSuperuser(ctx, userID, superuser)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Int64("user_id", userID).Bool("superuser", superuser).Msg("[USERS] superuser flag changed")
	return u, nil
}

// Bootstrap makes sure the configured account exists and is a superuser. It is a no-op when
// email is empty.
func (s *Service) Bootstrap(ctx context.Context, email, password string) error {
	if email == "" {
		return nil
	}
	u, err := s.repository.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	var notFound *apperr.NotFoundError
	switch {
	case errors.As(err, &notFound):
		_, err = s.create(ctx, NewUser{Email: email, Password: password, Name: "admin"}, true)
		return err
	case err != nil:
		return err
	case u.IsSuperuser:
		return nil
	}
	_, err = s.SetSuperuser(ctx, u.ID, true)
	return err
}
