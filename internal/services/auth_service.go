package services

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/ruralpay/ledger/internal/config"
	"github.com/ruralpay/ledger/internal/logger"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/repository"
)

// Session is returned by a successful login.
type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      models.User `json:"user"`
}

// AuthService issues the bearer tokens the API middleware verifies.
type AuthService struct {
	users  repository.UserRepository
	params config.Argon2Params
	secret []byte
	expiry time.Duration
	log    zerolog.Logger
	now    func() time.Time
}

func NewAuthService(users repository.UserRepository, params config.Argon2Params, secret string, expiry time.Duration, log zerolog.Logger) *AuthService {
	return &AuthService{
		users:  users,
		params: params,
		secret: []byte(secret),
		expiry: expiry,
		log:    logger.Component(log, "auth"),
		now:    time.Now,
	}
}

func (s *AuthService) Login(ctx context.Context, userID, password string) (*Session, error) {
	user, err := checkCredentials(ctx, s.users, s.params, userID, password)
	if err != nil {
		s.log.Warn().Str("user_id", userID).Str("code", string(models.CodeOf(err))).Msg("login failed")
		return nil, err
	}

	expiresAt := s.now().Add(s.expiry)
	token, err := s.generateJWT(user, expiresAt)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("user_id", user.ID).Msg("login successful")
	return &Session{Token: token, ExpiresAt: expiresAt, User: *user}, nil
}

func (s *AuthService) generateJWT(user *models.User, expiresAt time.Time) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	role := user.Role
	if role == "" {
		role = models.RoleUser
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user.ID,
		"role":    role,
		"iat":     s.now().Unix(),
		"exp":     expiresAt.Unix(),
	})
	return token.SignedString(s.secret)
}

// checkCredentials loads the user and verifies the password. Unknown users
// and wrong passwords give the same InvalidCredentials error.
func checkCredentials(ctx context.Context, users repository.UserRepository, params config.Argon2Params, userID, password string) (*models.User, error) {
	user, err := users.GetUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, models.NewLedgerError(models.CodeInvalidCredentials, "password", "invalid credentials")
	}
	if err != nil {
		return nil, models.StoreError("load user", err)
	}
	if !verifyPassword(password, user.PasswordHash, params) {
		return nil, models.NewLedgerError(models.CodeInvalidCredentials, "password", "invalid credentials")
	}
	return user, nil
}
