// Package receipt signs completion receipts a customer can verify later.
package receipt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidReceipt = errors.New("receipt: invalid or expired")

type Claims struct {
	RecordKind string `json:"kind"`
	RecordID   string `json:"rid"`
	SubjectID  string `json:"sub_id,omitempty"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 receipts.
type Signer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewSigner returns a signer; ttl 0 issues receipts that never expire.
func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl, issuer: "fieldops", now: time.Now}
}

func (s *Signer) Issue(recordKind, recordID, subjectID string) (string, error) {
	now := s.now()
	claims := Claims{
		RecordKind: recordKind,
		RecordID:   recordID,
		SubjectID:  subjectID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Signer) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, errors.Join(ErrInvalidReceipt, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidReceipt
	}
	return claims, nil
}
