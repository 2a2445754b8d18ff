// Package authpw provides email/password authentication.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"notegate/api/internal/fault"
	"notegate/api/internal/store"
	"notegate/api/internal/util"
)

const MinPasswordLength = 8

// ErrInvalidCredentials is returned for any failed sign-in so callers cannot
// tell unknown emails from wrong passwords.
var ErrInvalidCredentials = errors.New("invalid email or password")

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
}

// Welcomer is told about new accounts. It is called in the background.
type Welcomer interface {
	Welcome(ctx context.Context, user store.User) error
}

// Service provides email/password authentication
type Service struct {
	store    UserStore
	welcomer Welcomer
	cost     int
	now      func() time.Time
	onError  func(error)
}

func NewService(users UserStore, welcomer Welcomer) *Service {
	return &Service{
		store:    users,
		welcomer: welcomer,
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
		onError:  func(error) {},
	}
}

// WithCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

// OnWelcomeError registers a callback for failed welcome deliveries.
func (s *Service) OnWelcomeError(fn func(error)) {
	s.onError = fn
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
}

// SignUp creates a new user account
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	name := strings.TrimSpace(req.DisplayName)
	if email == "" || req.Password == "" || name == "" {
		return store.User{}, fault.InvalidInput("sign up", "email, password, and display name are required")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return store.User{}, fault.InvalidInput("sign up", "a valid email is required")
	}
	if utf8.RuneCountInString(req.Password) < MinPasswordLength {
		return store.User{}, fault.InvalidInput("sign up", fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, fault.Conflict("sign up", "email already registered")
	} else if !errors.Is(err, fault.ErrNotFound) {
		return store.User{}, fmt.Errorf("check existing user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           util.NewID("usr"),
		Email:        email,
		DisplayName:  name,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, err
	}

	if s.welcomer != nil {
		go func() {
			wctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.welcomer.Welcome(wctx, user); err != nil {
				s.onError(err)
			}
		}()
	}
	return user, nil
}

// SignInRequest contains sign-in parameters
type SignInRequest struct {
	Email    string
	Password string
}

// SignIn authenticates a user
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return store.User{}, fault.InvalidInput("sign in", "email and password are required")
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, fault.ErrNotFound) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if user.PasswordHash == "" {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	if utf8.RuneCountInString(next) < MinPasswordLength {
		return fault.InvalidInput("change password", fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.store.UpdateUserPassword(ctx, userID, string(hash))
}
