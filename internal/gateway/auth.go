package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidCredentials = errors.New("invalid device credentials")
)

// Claims carries the authenticated user alongside the registered claims.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"uid"`
	DeviceID string `json:"did"`
}

// GenerateToken issues an HS256 bearer token for a device session.
func GenerateToken(userID, deviceID string, secretKey []byte, validity time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
		},
		UserID:   userID,
		DeviceID: deviceID,
	})
	return token.SignedString(secretKey)
}

// UserIDFromToken validates the token and returns the embedded user.
func UserIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	})
	if err != nil {
		return "", errors.Join(ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}

// Authenticator enrolls devices and exchanges their secrets for tokens.
type Authenticator struct {
	repo     Repository
	secret   []byte
	validity time.Duration
}

func NewAuthenticator(repo Repository, secret []byte, validity time.Duration) *Authenticator {
	if validity <= 0 {
		validity = 24 * time.Hour
	}
	return &Authenticator{repo: repo, secret: secret, validity: validity}
}

// Register enrolls a device under a user. The plaintext secret is hashed
// immediately and never stored.
func (a *Authenticator) Register(ctx context.Context, deviceID, userID, secret string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return a.repo.CreateDevice(ctx, Device{
		ID:         deviceID,
		UserID:     userID,
		SecretHash: hash,
		CreatedAt:  time.Now().UTC(),
	})
}

// Token exchanges device credentials for a bearer token.
func (a *Authenticator) Token(ctx context.Context, deviceID, secret string) (string, error) {
	d, err := a.repo.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	if bcrypt.CompareHashAndPassword(d.SecretHash, []byte(secret)) != nil {
		return "", ErrInvalidCredentials
	}
	return GenerateToken(d.UserID, d.ID, a.secret, a.validity)
}

// Verify validates a bearer token and returns the user it belongs to.
func (a *Authenticator) Verify(token string) (string, error) {
	return UserIDFromToken(token, a.secret)
}
