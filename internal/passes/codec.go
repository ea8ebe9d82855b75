// Package passes issues and verifies the signed tokens printed on student QR passes.
package passes

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned for malformed, tampered or foreign-signed tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// Claim is the payload of a pass: this student may enter this event.
type Claim struct {
	StudentID uuid.UUID `json:"student_id"`
	EventID   uuid.UUID `json:"event_id"`
	IssuedAt  int64     `json:"issued_at"` // epoch milliseconds
	jwt.RegisteredClaims
}

// Codec signs and verifies pass tokens with a process-wide HMAC secret.
// Tokens carry no expiry: a pass stays valid for as long as its registration exists.
type Codec struct {
	secret []byte
	now    func() time.Time
	parser *jwt.Parser
}

// NewCodec creates a codec keyed by secret.
func NewCodec(secret string) *Codec {
	return &Codec{
		secret: []byte(secret),
		now:    time.Now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithStrictDecoding(),
		),
	}
}

// Issue returns a signed token for (studentID, eventID).
func (c *Codec) Issue(studentID, eventID uuid.UUID) (string, error) {
	if studentID == uuid.Nil || eventID == uuid.Nil {
		return "", fmt.Errorf("issue pass: %w", ErrInvalidToken)
	}
	now := c.now()
	claim := Claim{
		StudentID: studentID,
		EventID:   eventID,
		IssuedAt:  now.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
			ID:       uuid.NewString(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claim).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign pass: %w", err)
	}
	return token, nil
}

// Verify checks the signature and structure of token and returns its claim.
func (c *Codec) Verify(token string) (*Claim, error) {
	var claim Claim
	parsed, err := c.parser.ParseWithClaims(token, &claim, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claim.StudentID == uuid.Nil || claim.EventID == uuid.Nil {
		return nil, ErrInvalidToken
	}
	return &claim, nil
}
