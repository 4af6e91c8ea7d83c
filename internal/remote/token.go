package remote

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"kasirinaja/terminal/internal/domain"
)

const (
	tokenIssuer = "kasirinaja-terminal"
	tokenTTL    = 5 * time.Minute
	keyInfo     = "kasirinaja device token v1"
)

type deviceClaims struct {
	jwtlib.RegisteredClaims
	DeviceName string `json:"device_name,omitempty"`
}

// deviceSigner issues short-lived bearer tokens for one terminal. The HMAC
// key is derived from the device key so the raw key never signs anything.
type deviceSigner struct {
	device domain.DeviceContext
	key    []byte
	now    func() time.Time
}

func newDeviceSigner(device domain.DeviceContext, now func() time.Time) (*deviceSigner, error) {
	key, err := deriveSigningKey(device)
	if err != nil {
		return nil, err
	}
	return &deviceSigner{device: device, key: key, now: now}, nil
}

func deriveSigningKey(device domain.DeviceContext) ([]byte, error) {
	if err := device.Validate(); err != nil {
		return nil, err
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(device.DeviceKey), []byte(device.DeviceID), []byte(keyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return key, nil
}

func (s *deviceSigner) sign() (string, error) {
	now := s.now().UTC()
	claims := deviceClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   s.device.DeviceID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(tokenTTL)),
			Issuer:    tokenIssuer,
		},
		DeviceName: s.device.DeviceName,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}

// VerifyDeviceToken checks a bearer token against the device it claims to
// come from and returns the device id. The server side uses the same
// derivation.
func VerifyDeviceToken(tokenStr string, device domain.DeviceContext) (string, error) {
	key, err := deriveSigningKey(device)
	if err != nil {
		return "", err
	}
	claims := &deviceClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return key, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return "", errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub != device.DeviceID {
		return "", errors.New("invalid token subject")
	}
	return sub, nil
}
