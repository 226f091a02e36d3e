package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/authflow/backend/internal/db"
	"github.com/authflow/backend/internal/model"
	"github.com/authflow/backend/internal/session"
	"github.com/authflow/backend/internal/token"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	// bcrypt ignores everything past 72 bytes.
	maxPasswordLength = 72
	minNameLength     = 2
	maxNameLength     = 100
	maxEmailLength    = 254

	// Sign-in overwrites whatever is stored; concurrent sign-ins for the same
	// identity can make the compare-and-set lose, so it re-reads a few times.
	maxRotateAttempts = 3
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("conflict")
	// ErrInvalidCredentials covers both unknown email and wrong password.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
)

// Reasons a refresh token is refused. They only reach the log.
const (
	reasonRevoked         = "revoked"
	reasonRotatedOut      = "rotated-out"
	reasonConflict        = "conflict"
	reasonUnknownIdentity = "unknown-identity"
)

//go:generate mockgen -source=auth.go -destination=mock_repository_test.go -package=service

// UserRepository is the credential store. Lookups return pgx.ErrNoRows when
// nothing matches and CreateUser returns a 23505 unique violation for a taken
// email.
type UserRepository interface {
	CreateUser(ctx context.Context, email, name, passwordHash string) (*model.Identity, error)
	GetUserByEmail(ctx context.Context, email string) (*model.Identity, error)
	GetUserByID(ctx context.Context, id string) (*model.Identity, error)
	TouchLastLogin(ctx context.Context, id string) error
}

type Options struct {
	Fingerprint session.Fingerprinter
	BcryptCost  int
	Logger      *slog.Logger
}

type AuthService struct {
	users       UserRepository
	sessions    session.Store
	tokens      *token.Issuer
	fingerprint session.Fingerprinter
	bcryptCost  int
	logger      *slog.Logger
	dummyHash   []byte
}

func NewAuthService(users UserRepository, sessions session.Store, tokens *token.Issuer, opts Options) (*AuthService, error) {
	if opts.Fingerprint == nil {
		opts.Fingerprint = session.PlainFingerprint
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	// Compared against on unknown emails so both sign-in failures cost the same.
	dummy, err := bcrypt.GenerateFromPassword([]byte("authflow-timing-equalizer"), opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("preparing password hasher: %w", err)
	}

	return &AuthService{
		users:       users,
		sessions:    sessions,
		tokens:      tokens,
		fingerprint: opts.Fingerprint,
		bcryptCost:  opts.BcryptCost,
		logger:      opts.Logger,
		dummyHash:   dummy,
	}, nil
}

func (s *AuthService) SignUp(ctx context.Context, email, password, name string) (*model.Session, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if err := validateRegistration(email, password, name); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, err
	}

	user, err := s.users.CreateUser(ctx, email, name, string(hash))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}

	pair, err := s.issue(user)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Rotate(ctx, user.ID, "", s.fingerprint(pair.RefreshToken)); err != nil {
		// The identity row stays; the user can still sign in.
		s.logger.ErrorContext(ctx, "user created without session",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("storing refresh fingerprint: %w", err)
	}

	s.logger.InfoContext(ctx, "user registered", slog.String("user_id", user.ID))
	return &model.Session{User: user.Public(), Tokens: pair}, nil
}

func (s *AuthService) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidInput
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if db.IsNoRows(err) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			s.logger.WarnContext(ctx, "sign-in rejected", slog.String("reason", "unknown-email"))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.WarnContext(ctx, "sign-in rejected", slog.String("reason", "bad-password"), slog.String("user_id", user.ID))
		return nil, ErrInvalidCredentials
	}

	pair, err := s.issue(user)
	if err != nil {
		return nil, err
	}
	if err := s.replaceFingerprint(ctx, user.ID, s.fingerprint(pair.RefreshToken)); err != nil {
		return nil, fmt.Errorf("storing refresh fingerprint: %w", err)
	}

	if err := s.users.TouchLastLogin(ctx, user.ID); err != nil {
		s.logger.WarnContext(ctx, "failed to record last login", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	return &model.Session{User: user.Public(), Tokens: pair}, nil
}

// Refresh trades a refresh token for a new pair. Every refusal surfaces as
// ErrUnauthorized; the specific reason is only logged.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return model.TokenPair{}, s.rejectRefresh(ctx, "", string(token.ReasonOf(err)))
	}
	userID := claims.Subject

	stored, err := s.sessions.Fingerprint(ctx, userID)
	if err != nil {
		return model.TokenPair{}, err
	}
	presented := s.fingerprint(refreshToken)
	switch {
	case stored == "":
		return model.TokenPair{}, s.rejectRefresh(ctx, userID, reasonRevoked)
	case stored != presented:
		return model.TokenPair{}, s.rejectRefresh(ctx, userID, reasonRotatedOut)
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if db.IsNoRows(err) {
			return model.TokenPair{}, s.rejectRefresh(ctx, userID, reasonUnknownIdentity)
		}
		return model.TokenPair{}, err
	}

	pair, err := s.issue(user)
	if err != nil {
		return model.TokenPair{}, err
	}
	if err := s.sessions.Rotate(ctx, userID, presented, s.fingerprint(pair.RefreshToken)); err != nil {
		if errors.Is(err, session.ErrConflict) {
			return model.TokenPair{}, s.rejectRefresh(ctx, userID, reasonConflict)
		}
		return model.TokenPair{}, err
	}

	return pair, nil
}

// Logout revokes the identity's refresh token. It is idempotent.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrUnauthorized
	}
	if err := s.sessions.Clear(ctx, userID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "user logged out", slog.String("user_id", userID))
	return nil
}

func (s *AuthService) Profile(ctx context.Context, userID string) (model.PublicUser, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if db.IsNoRows(err) {
			return model.PublicUser{}, ErrUnauthorized
		}
		return model.PublicUser{}, err
	}
	return user.Public(), nil
}

// ParseAccessToken resolves the identity behind an access token. Failures keep
// the token.InvalidTokenError so callers can log the reason.
func (s *AuthService) ParseAccessToken(tokenStr string) (*model.AuthUser, error) {
	claims, err := s.tokens.VerifyAccess(tokenStr)
	if err != nil {
		return nil, err
	}
	return &model.AuthUser{ID: claims.Subject, Email: claims.Email}, nil
}

func (s *AuthService) issue(user *model.Identity) (model.TokenPair, error) {
	pair, err := s.tokens.Issue(token.Subject{ID: user.ID, Email: user.Email})
	if err != nil {
		return model.TokenPair{}, err
	}
	return model.TokenPair{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		AtExpiry:     pair.AtExpiry,
	}, nil
}

func (s *AuthService) replaceFingerprint(ctx context.Context, userID, next string) error {
	var err error
	for attempt := 0; attempt < maxRotateAttempts; attempt++ {
		var current string
		current, err = s.sessions.Fingerprint(ctx, userID)
		if err != nil {
			return err
		}
		err = s.sessions.Rotate(ctx, userID, current, next)
		if !errors.Is(err, session.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *AuthService) rejectRefresh(ctx context.Context, userID, reason string) error {
	attrs := []any{slog.String("reason", reason)}
	if userID != "" {
		attrs = append(attrs, slog.String("user_id", userID))
	}
	s.logger.WarnContext(ctx, "refresh rejected", attrs...)
	return ErrUnauthorized
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateRegistration(email, password, name string) error {
	if email == "" || len(email) > maxEmailLength {
		return ErrInvalidInput
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidInput
	}
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return ErrInvalidInput
	}
	if len(name) < minNameLength || len(name) > maxNameLength {
		return ErrInvalidInput
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
