package services

import (
	"context"
	cryptorand "crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/ruralpay/ledger/internal/config"
	"github.com/ruralpay/ledger/internal/logger"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/repository"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/argon2"
)

type StepUpLevel string

const (
	StepUpNone           StepUpLevel = "none"
	StepUpConfirm        StepUpLevel = "confirm"
	StepUpReauthenticate StepUpLevel = "reauthenticate"
)

type Operation string

const (
	OpDeposit    Operation = "deposit"
	OpWithdrawal Operation = "withdrawal"
	OpTransfer   Operation = "transfer"
	OpUndo       Operation = "undo"
)

func ParseOperation(raw string) (Operation, bool) {
	switch op := Operation(strings.ToLower(strings.TrimSpace(raw))); op {
	case OpDeposit, OpWithdrawal, OpTransfer, OpUndo:
		return op, true
	}
	return "", false
}

// StepUpPolicy decides how much extra proof a large operation needs.
type StepUpPolicy struct {
	ConfirmThreshold decimal.Decimal
	ReauthThreshold  decimal.Decimal
}

func NewStepUpPolicy(cfg *config.LedgerConfig) StepUpPolicy {
	return StepUpPolicy{ConfirmThreshold: cfg.ConfirmThreshold, ReauthThreshold: cfg.ReauthThreshold}
}

// RequiresStepUp returns the level for op at amount. Reauthentication
// implies confirmation.
func (p StepUpPolicy) RequiresStepUp(op Operation, amount decimal.Decimal) StepUpLevel {
	amount = amount.Abs()
	if op == OpWithdrawal && amount.GreaterThan(p.ReauthThreshold) {
		return StepUpReauthenticate
	}
	if amount.GreaterThan(p.ConfirmThreshold) {
		return StepUpConfirm
	}
	return StepUpNone
}

// Authorization is the proof a caller attaches to a ledger request.
type Authorization struct {
	Confirmed  bool   `json:"confirmed"`
	GrantToken string `json:"grant_token,omitempty"`
}

func stepUpRequired(level StepUpLevel, message string) *models.LedgerError {
	return models.NewLedgerError(models.CodeStepUpRequired, "", message).
		WithDetail("level", string(level))
}

// StepUpLevelOf extracts the required level from a StepUpRequired error.
func StepUpLevelOf(err error) StepUpLevel {
	var le *models.LedgerError
	if errors.As(err, &le) && le.Code == models.CodeStepUpRequired {
		return StepUpLevel(le.Details["level"])
	}
	return StepUpNone
}

// GrantStore keeps single-use re-authentication grants.
type GrantStore interface {
	Issue(ctx context.Context, userID string, ttl time.Duration) (string, error)
	// Redeem consumes token. It reports false when the token is unknown,
	// expired, already used or issued to another user.
	Redeem(ctx context.Context, token, userID string) (bool, error)
}

const grantKeyPrefix = "stepup:grant:"

type RedisGrantStore struct {
	redis *redis.Client
}

func NewRedisGrantStore(client *redis.Client) *RedisGrantStore {
	return &RedisGrantStore{redis: client}
}

func (s *RedisGrantStore) Issue(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	if err := s.redis.Set(ctx, grantKeyPrefix+token, userID, ttl).Err(); err != nil {
		return "", fmt.Errorf("store grant: %w", err)
	}
	return token, nil
}

func (s *RedisGrantStore) Redeem(ctx context.Context, token, userID string) (bool, error) {
	key := grantKeyPrefix + token
	owner, err := s.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load grant: %w", err)
	}
	if owner != userID {
		return false, nil
	}
	// Only the caller whose Del removed the key wins a concurrent redeem.
	deleted, err := s.redis.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("consume grant: %w", err)
	}
	return deleted == 1, nil
}

type memoryGrant struct {
	userID    string
	expiresAt time.Time
}

// MemoryGrantStore is used when Redis is not configured.
type MemoryGrantStore struct {
	mu     sync.Mutex
	grants map[string]memoryGrant
	now    func() time.Time
}

func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{grants: make(map[string]memoryGrant), now: time.Now}
}

func (s *MemoryGrantStore) Issue(_ context.Context, userID string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := uuid.NewString()
	s.grants[token] = memoryGrant{userID: userID, expiresAt: s.now().Add(ttl)}
	return token, nil
}

func (s *MemoryGrantStore) Redeem(_ context.Context, token, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[token]
	if !ok || g.userID != userID {
		return false, nil
	}
	delete(s.grants, token)
	return s.now().Before(g.expiresAt), nil
}

// Grant is an issued re-authentication proof.
type Grant struct {
	Token     string    `json:"grant_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StepUpService verifies credentials and issues grants.
type StepUpService struct {
	users  repository.UserRepository
	grants GrantStore
	params config.Argon2Params
	ttl    time.Duration
	log    zerolog.Logger
}

func NewStepUpService(users repository.UserRepository, grants GrantStore, params config.Argon2Params, ttl time.Duration, log zerolog.Logger) *StepUpService {
	return &StepUpService{
		users:  users,
		grants: grants,
		params: params,
		ttl:    ttl,
		log:    logger.Component(log, "stepup"),
	}
}

func (s *StepUpService) Reauthenticate(ctx context.Context, userID, password string) (*Grant, error) {
	if _, err := checkCredentials(ctx, s.users, s.params, userID, password); err != nil {
		s.log.Warn().Str("user_id", userID).Str("code", string(models.CodeOf(err))).Msg("re-authentication failed")
		return nil, err
	}

	token, err := s.grants.Issue(ctx, userID, s.ttl)
	if err != nil {
		return nil, models.StoreError("issue grant", err)
	}
	s.log.Info().Str("user_id", userID).Dur("ttl", s.ttl).Msg("re-authentication grant issued")
	return &Grant{Token: token, ExpiresAt: time.Now().Add(s.ttl)}, nil
}

const saltLength = 16

// HashPassword returns base64(salt)$base64(hash).
func HashPassword(password string, p config.Argon2Params) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLength)
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyPassword(password, hashedPassword string, p config.Argon2Params) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, computedHash) == 1
}

