// Package identity is the email/password authentication oracle. It owns
// auth_users and auth_emails and nothing else; account data is provisioned
// and cleaned up by triggers on auth_users.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"famtool-server/internal/model"
	"famtool-server/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLen = 6

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotFound           = errors.New("identity not found")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", minPasswordLen)
)

type Service struct {
	st     store.Store
	logger zerolog.Logger
	now    func() time.Time
	cost   int
}

type Options struct {
	Now func() time.Time
	// Cost is the bcrypt cost; zero uses bcrypt.DefaultCost.
	Cost int
}

func New(st store.Store, logger zerolog.Logger, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Cost == 0 {
		opts.Cost = bcrypt.DefaultCost
	}
	return &Service{st: st, logger: logger.With().Str("component", "identity").Logger(), now: opts.Now, cost: opts.Cost}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// Create registers an identity. The email is claimed in a transaction first
// so two signups for the same address cannot both succeed.
func (s *Service) Create(ctx context.Context, email, password, displayName string) (model.Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return model.Identity{}, err
	}
	if len(password) < minPasswordLen {
		return model.Identity{}, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return model.Identity{}, fmt.Errorf("hash password: %w", err)
	}

	uid := strings.ReplaceAll(uuid.NewString(), "-", "")
	emailPath := model.AuthEmailPath(model.EmailKey(email))
	_, err = s.st.Transaction(ctx, emailPath, func(cur any) (any, error) {
		if cur != nil {
			return nil, ErrEmailTaken
		}
		return uid, nil
	})
	if err != nil {
		return model.Identity{}, err
	}

	ident := model.Identity{
		UID:          uid,
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: string(hash),
		CreatedAt:    s.now().UnixMilli(),
	}
	if err := s.st.Set(ctx, model.AuthUserPath(uid), ident); err != nil {
		if derr := s.st.Delete(ctx, emailPath); derr != nil {
			s.logger.Error().Err(derr).Str("email_key", model.EmailKey(email)).Msg("release email claim failed")
		}
		return model.Identity{}, fmt.Errorf("write identity: %w", err)
	}

	s.logger.Info().Str("uid", uid).Msg("identity created")
	return ident, nil
}

func (s *Service) Get(ctx context.Context, uid string) (model.Identity, error) {
	v, err := s.st.Get(ctx, model.AuthUserPath(uid))
	if err != nil {
		return model.Identity{}, fmt.Errorf("read identity: %w", err)
	}
	if v == nil {
		return model.Identity{}, ErrNotFound
	}
	var ident model.Identity
	if err := store.Decode(v, &ident); err != nil {
		return model.Identity{}, fmt.Errorf("decode identity: %w", err)
	}
	return ident, nil
}

func (s *Service) LookupEmail(ctx context.Context, email string) (string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", ErrNotFound
	}
	v, err := s.st.Get(ctx, model.AuthEmailPath(model.EmailKey(email)))
	if err != nil {
		return "", fmt.Errorf("read email claim: %w", err)
	}
	uid, ok := v.(string)
	if !ok || uid == "" {
		return "", ErrNotFound
	}
	return uid, nil
}

// Authenticate returns the identity when password matches. Unknown emails and
// wrong passwords are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, email, password string) (model.Identity, error) {
	uid, err := s.LookupEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return model.Identity{}, ErrInvalidCredentials
	}
	if err != nil {
		return model.Identity{}, err
	}
	ident, err := s.Get(ctx, uid)
	if errors.Is(err, ErrNotFound) {
		return model.Identity{}, ErrInvalidCredentials
	}
	if err != nil {
		return model.Identity{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(ident.PasswordHash), []byte(password)) != nil {
		return model.Identity{}, ErrInvalidCredentials
	}
	return ident, nil
}

// Delete removes the identity and its email claim in one update.
func (s *Service) Delete(ctx context.Context, uid string) error {
	ident, err := s.Get(ctx, uid)
	if err != nil {
		return err
	}
	if err := s.st.Update(ctx, DeletionPaths(ident)); err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	s.logger.Info().Str("uid", uid).Msg("identity deleted")
	return nil
}

// DeletionPaths are the updates that erase ident, for callers folding the
// identity into a larger multi-path delete.
func DeletionPaths(ident model.Identity) map[string]any {
	out := map[string]any{model.AuthUserPath(ident.UID): nil}
	if ident.Email != "" {
		out[model.AuthEmailPath(model.EmailKey(ident.Email))] = nil
	}
	return out
}
