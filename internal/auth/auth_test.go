package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

func newTestService() *AuthService {
	s := NewAuthService(store.NewMemory(), NewTokens(testSecret, time.Hour), decimal.NewFromInt(100), decimal.NewFromInt(100000))
	s.bcryptCost = bcrypt.MinCost
	return s
}

func TestAuthService_Register(t *testing.T) {
	tests := []struct {
		name        string
		username    string
		password    string
		expectError error
		expectKind  models.Kind
	}{
		{
			name:     "Success",
			username: "alice",
			password: "password123",
		},
		{
			name:       "EmptyUsername",
			username:   "",
			password:   "password123",
			expectKind: models.KindValidation,
		},
		{
			name:       "EmptyPassword",
			username:   "bob",
			password:   "",
			expectKind: models.KindValidation,
		},
		{
			name:        "DuplicateUsername",
			username:    "taken",
			password:    "newpass",
			expectError: models.ErrAccountExists,
			expectKind:  models.KindDomain,
		},
		{
			name:       "LongUsername",
			username:   strings.Repeat("a", 51),
			password:   "password123",
			expectKind: models.KindValidation,
		},
		{
			name:       "LongPassword",
			username:   "carol",
			password:   strings.Repeat("p", 73),
			expectKind: models.KindValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := newTestService()
			_, err := s.Register(ctx, "taken", "password123")
			require.NoError(t, err)

			account, err := s.Register(ctx, tt.username, tt.password)
			if tt.expectKind != models.KindUnknown {
				require.Error(t, err)
				assert.Equal(t, tt.expectKind, models.KindOf(err))
				if tt.expectError != nil {
					assert.ErrorIs(t, err, tt.expectError)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.username, account.Name)
			assert.True(t, account.Base.Decimal().Equal(decimal.NewFromInt(100)))
			assert.True(t, account.Quote.Decimal().Equal(decimal.NewFromInt(100000)))

			stored, err := s.Store.Accounts().FindByName(ctx, tt.username)
			require.NoError(t, err)
			assert.Equal(t, account.ID, stored.ID)
			assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte(tt.password)))
		})
	}
}

func TestAuthService_Login(t *testing.T) {
	s := newTestService()
	alice, err := s.Register(context.Background(), "alice", "password123")
	require.NoError(t, err)

	fees, err := models.NewAccount("exchange-fees", "", decimal.Zero, decimal.Zero, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Store.Accounts().Save(context.Background(), fees))

	tests := []struct {
		name        string
		username    string
		password    string
		expectError bool
	}{
		{"Success", "alice", "password123", false},
		{"WrongPassword", "alice", "wrongpass", true},
		{"NonExistentUser", "bob", "password123", true},
		{"LongPassword", "alice", strings.Repeat("p", 1000), true},
		{"AccountWithoutPassword", "exchange-fees", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := s.Login(context.Background(), tt.username, tt.password)
			if tt.expectError {
				assert.ErrorIs(t, err, models.ErrInvalidCredentials)
				return
			}
			require.NoError(t, err)

			id, err := s.AccountFromToken(token)
			require.NoError(t, err)
			assert.Equal(t, alice.ID, id)
		})
	}
}

func TestTokens_Verify(t *testing.T) {
	tokens := NewTokens(testSecret, time.Hour)
	accountID := uuid.New()
	valid, err := tokens.Sign(accountID)
	require.NoError(t, err)

	sign := func(method jwt.SigningMethod, key interface{}, claims jwt.Claims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	past := time.Now().Add(-2 * time.Hour)
	expired := sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
		Subject:   accountID.String(),
		IssuedAt:  jwt.NewNumericDate(past),
		ExpiresAt: jwt.NewNumericDate(past.Add(time.Hour)),
	})
	wrongKey := sign(jwt.SigningMethodHS256, []byte("wrong-key"), jwt.RegisteredClaims{
		Subject:   accountID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	noExpiry := sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
		Subject: accountID.String(),
	})
	badSubject := sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{
		Subject:   "42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	otherAlg := sign(jwt.SigningMethodHS512, []byte(testSecret), jwt.RegisteredClaims{
		Subject:   accountID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	tests := []struct {
		name        string
		token       string
		expectError bool
	}{
		{"Success", valid, false},
		{"ExpiredToken", expired, true},
		{"InvalidSignature", wrongKey, true},
		{"MissingExpiry", noExpiry, true},
		{"BadSubject", badSubject, true},
		{"OtherAlgorithm", otherAlg, true},
		{"EmptyToken", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := tokens.Verify(tt.token)
			if tt.expectError {
				assert.ErrorIs(t, err, ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, accountID, id)
		})
	}
}
