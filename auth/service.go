// Package auth issues and validates the bearer tokens that guard the API.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"

	RoleAdmin = "admin"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrRevokedToken       = errors.New("token has been revoked")
	ErrWrongTokenType     = errors.New("wrong token type")
)

type Config struct {
	Secret        string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
	AdminUsername string
	AdminPassword string
}

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// User is the identity carried by a valid token.
type User struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Service authenticates the configured admin account and tracks revoked
// tokens until they expire.
type Service struct {
	secret        []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	adminUsername string
	adminHash     []byte

	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.AdminUsername == "" || cfg.AdminPassword == "" {
		return nil, errors.New("admin credentials are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash admin password: %w", err)
	}
	return &Service{
		secret:        []byte(cfg.Secret),
		accessExpiry:  cfg.AccessExpiry,
		refreshExpiry: cfg.RefreshExpiry,
		adminUsername: cfg.AdminUsername,
		adminHash:     hash,
		revoked:       make(map[string]time.Time),
		now:           time.Now,
	}, nil
}

// Login checks the credentials and returns a fresh token pair.
func (s *Service) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	if username != s.adminUsername {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(s.adminHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	log.WithField("user_id", username).Info("auth.login")
	return s.generateTokenPair(User{UserID: username, Role: RoleAdmin})
}

// Refresh exchanges a refresh token for a new pair. The old refresh token is revoked.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	user, exp, err := s.parse(refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	s.revoke(refreshToken, exp)
	return s.generateTokenPair(user)
}

// ValidateToken validates an access token and returns its user.
func (s *Service) ValidateToken(tokenString string) (*User, error) {
	user, _, err := s.parse(tokenString, TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Logout revokes an access token for the rest of its lifetime.
func (s *Service) Logout(ctx context.Context, tokenString string) error {
	_, exp, err := s.parse(tokenString, TokenTypeAccess)
	if err != nil {
		return err
	}
	s.revoke(tokenString, exp)
	return nil
}

func (s *Service) generateTokenPair(user User) (*TokenPair, error) {
	now := s.now()
	access, err := s.sign(user, TokenTypeAccess, now, now.Add(s.accessExpiry))
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(user, TokenTypeRefresh, now, now.Add(s.refreshExpiry))
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.accessExpiry.Seconds()),
	}, nil
}

func (s *Service) sign(user User, tokenType string, iat, exp time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user.UserID,
		"role":    user.Role,
		"type":    tokenType,
		"jti":     uuid.NewString(),
		"exp":     exp.Unix(),
		"iat":     iat.Unix(),
	})
	return token.SignedString(s.secret)
}

func (s *Service) parse(tokenString, wantType string) (User, time.Time, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return User{}, time.Time{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return User{}, time.Time{}, ErrInvalidToken
	}
	if tokenType, _ := claims["type"].(string); tokenType != wantType {
		return User{}, time.Time{}, ErrWrongTokenType
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return User{}, time.Time{}, ErrInvalidToken
	}
	role, _ := claims["role"].(string)

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return User{}, time.Time{}, ErrInvalidToken
	}
	if s.isRevoked(tokenString) {
		return User{}, time.Time{}, ErrRevokedToken
	}
	return User{UserID: userID, Role: role}, exp.Time, nil
}

func (s *Service) revoke(tokenString string, exp time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.revoked {
		if now.After(e) {
			delete(s.revoked, k)
		}
	}
	s.revoked[hashToken(tokenString)] = exp
}

func (s *Service) isRevoked(tokenString string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.revoked[hashToken(tokenString)]
	return ok
}

func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
