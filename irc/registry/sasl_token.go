package registry

import (
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// ResumeClaims is the payload of a signed resume/bouncer token: a client
// that loses its TCP connection mid-session can present this token to
// reattach to the same UID without running the full registration
// verifier again.
type ResumeClaims struct {
	jwt.StandardClaims
	UID          string `json:"uid"`
	NickCasefold string `json:"nick_cf"`
}

// ResumeTokenSigner issues and verifies resume tokens for one daemon
// instance.
type ResumeTokenSigner struct {
	secret []byte
	ttl    time.Duration
}

func NewResumeTokenSigner(secret []byte, ttl time.Duration) *ResumeTokenSigner {
	return &ResumeTokenSigner{secret: secret, ttl: ttl}
}

// Issue signs a resume token for an already-registered client.
func (s *ResumeTokenSigner) Issue(uid, nickCasefold string, now time.Time) (string, error) {
	claims := ResumeClaims{
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(s.ttl).Unix(),
		},
		UID:          uid,
		NickCasefold: nickCasefold,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks a resume token's signature and expiry, returning the
// claims on success.
func (s *ResumeTokenSigner) Verify(tokenString string) (*ResumeClaims, error) {
	claims := &ResumeClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("registry: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("registry: resume token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("registry: resume token invalid")
	}
	return claims, nil
}
