package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const (
	maxNameLength     = 50
	maxPasswordLength = 72 // bcrypt ignores anything longer
)

// ErrInvalidToken is returned for tokens that are malformed, expired or not
// signed with our key
var ErrInvalidToken = errors.New("invalid token")

// Tokens signs and verifies session tokens
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign issues a token for the account
func (t *Tokens) Sign(accountID uuid.UUID) (string, error) {
	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   accountID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	})
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify returns the account id a token was issued for
func (t *Tokens) Verify(tokenString string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired(), jwt.WithTimeFunc(t.now))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return id, nil
}

// AuthService handles account sign-up and sign-in
type AuthService struct {
	Store      store.Store
	Tokens     *Tokens
	StartBase  decimal.Decimal
	StartQuote decimal.Decimal
	now        func() time.Time
	bcryptCost int
}

// NewAuthService creates a new auth service. New accounts are credited with
// the given starting balances.
func NewAuthService(st store.Store, tokens *Tokens, startBase, startQuote decimal.Decimal) *AuthService {
	return &AuthService{
		Store:      st,
		Tokens:     tokens,
		StartBase:  startBase,
		StartQuote: startQuote,
		now:        time.Now,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// Register creates a new account with a hashed password
func (s *AuthService) Register(ctx context.Context, name, password string) (*models.Account, error) {
	if name == "" {
		return nil, &models.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return nil, &models.ValidationError{Field: "name", Reason: fmt.Sprintf("too long (max %d characters)", maxNameLength)}
	}
	if password == "" {
		return nil, &models.ValidationError{Field: "password", Reason: "must not be empty"}
	}
	if len(password) > maxPasswordLength {
		return nil, &models.ValidationError{Field: "password", Reason: fmt.Sprintf("too long (max %d bytes)", maxPasswordLength)}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	account, err := models.NewAccount(name, string(hash), s.StartBase, s.StartQuote, s.now())
	if err != nil {
		return nil, err
	}

	err = s.Store.Atomic(ctx, func(tx store.Store) error {
		_, err := tx.Accounts().FindByName(ctx, name)
		if err == nil {
			return models.ErrAccountExists
		}
		if !errors.Is(err, models.ErrAccountNotFound) {
			return models.Infra("look up account", err)
		}
		return models.Infra("create account", tx.Accounts().Save(ctx, account))
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Login verifies credentials and issues a token
func (s *AuthService) Login(ctx context.Context, name, password string) (string, error) {
	account, err := s.Store.Accounts().FindByName(ctx, name)
	if errors.Is(err, models.ErrAccountNotFound) {
		return "", models.ErrInvalidCredentials
	}
	if err != nil {
		return "", models.Infra("look up account", err)
	}
	if account.PasswordHash == "" {
		return "", models.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return "", models.ErrInvalidCredentials
	}
	return s.Tokens.Sign(account.ID)
}

// AccountFromToken resolves a token to the account id it was issued for
func (s *AuthService) AccountFromToken(token string) (uuid.UUID, error) {
	return s.Tokens.Verify(token)
}
