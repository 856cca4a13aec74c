package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"bookshelf/internal/util"
	"bookshelf/pkg/auth"
	"bookshelf/pkg/domain"
	"bookshelf/pkg/policy"
	"bookshelf/pkg/store"
)

// NewUserInput registers an account from the admin CLI.
type NewUserInput struct {
	Login      string `json:"login" validate:"required,max=100"`
	Password   string `json:"password" validate:"required"`
	LastName   string `json:"lastName" validate:"required,max=100"`
	FirstName  string `json:"firstName" validate:"required,max=100"`
	MiddleName string `json:"middleName" validate:"max=100"`
	Role       string `json:"role" validate:"required,oneof=admin moderator user"`
}

// CreateUser validates and stores a new account with a bcrypt password hash.
func (a *App) CreateUser(ctx context.Context, in NewUserInput) (domain.User, error) {
	in.Login = strings.TrimSpace(in.Login)
	verr := a.validate.check(in)
	if in.Password != "" {
		if err := auth.ValidatePassword(in.Password); err != nil {
			verr = verr.merge(fieldError("password", err.Error()))
		}
	}
	if err := verr.orNil(); err != nil {
		return domain.User{}, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := domain.User{
		ID:           uuid.NewString(),
		Login:        in.Login,
		PasswordHash: hash,
		LastName:     strings.TrimSpace(in.LastName),
		FirstName:    strings.TrimSpace(in.FirstName),
		MiddleName:   strings.TrimSpace(in.MiddleName),
		Role:         domain.UserRole(in.Role),
		CreatedAt:    a.now(),
	}
	if err := a.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.User{}, ErrLoginTaken
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// ListUsers returns every account.
func (a *App) ListUsers(ctx context.Context) ([]domain.User, error) {
	return a.store.ListUsers(ctx)
}

// Login checks credentials and issues a session token.
func (a *App) Login(ctx context.Context, login, password string) (domain.User, string, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return domain.User{}, "", ErrInvalidCredentials
	}
	u, ok, err := a.store.GetUserByLogin(ctx, login)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("lookup user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, u.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(u.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	util.LoggerFromContext(ctx).Info("user logged in", "user_id", u.ID)
	return u, token, nil
}

// Logout revokes the session token.
func (a *App) Logout(ctx context.Context, token string) error {
	return a.sessions.DeleteSession(ctx, token)
}

// Identify resolves a session token to its user. Any invalid token, including a
// revoked one or one whose user was removed, yields ErrUnauthenticated.
func (a *App) Identify(ctx context.Context, token string) (domain.User, error) {
	userID, err := a.sessions.GetUserIDByToken(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidSession) {
			return domain.User{}, ErrUnauthenticated
		}
		return domain.User{}, err
	}
	u, ok, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUnauthenticated
	}
	return u, nil
}

// IdentityFor resolves the policy identity for a token, falling back to the
// anonymous identity when the token is missing or invalid.
func (a *App) IdentityFor(ctx context.Context, token string) (policy.Identity, domain.User, error) {
	if strings.TrimSpace(token) == "" {
		return policy.Anonymous, domain.User{}, nil
	}
	u, err := a.Identify(ctx, token)
	if errors.Is(err, ErrUnauthenticated) {
		return policy.Anonymous, domain.User{}, nil
	}
	if err != nil {
		return policy.Anonymous, domain.User{}, err
	}
	return policy.IdentityOf(u), u, nil
}
