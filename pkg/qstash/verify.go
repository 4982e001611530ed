package qstash

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const SignatureHeader = "Upstash-Signature"

var ErrInvalidSignature = errors.New("invalid qstash signature")

type claims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

// Verify checks a delivery signature against the current key and then the next key, which
// covers key rotation. url, when set, must match the signed subject.
func (c *Client) Verify(signature string, body []byte, url string) error {
	if strings.TrimSpace(signature) == "" {
		return fmt.Errorf("%w: missing %s header", ErrInvalidSignature, SignatureHeader)
	}

	var lastErr error
	for _, key := range []string{c.currentSigningKey, c.nextSigningKey} {
		if key == "" {
			continue
		}
		if err := verifyWithKey(signature, key, body, url); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("no signing keys configured")
	}
	return fmt.Errorf("%w: %v", ErrInvalidSignature, lastErr)
}

func verifyWithKey(signature, key string, body []byte, url string) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer("Upstash"),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(time.Second),
	}
	if url != "" {
		opts = append(opts, jwt.WithSubject(url))
	}

	var cl claims
	_, err := jwt.ParseWithClaims(signature, &cl, func(*jwt.Token) (any, error) {
		return []byte(key), nil
	}, opts...)
	if err != nil {
		return err
	}

	sum := sha256.Sum256(body)
	if strings.TrimRight(cl.Body, "=") != base64.RawURLEncoding.EncodeToString(sum[:]) {
		return errors.New("body hash mismatch")
	}
	return nil
}

// Sign issues a signature the way QStash does. Used by tests and local tooling.
func Sign(key, url string, body []byte, now time.Time) (string, error) {
	sum := sha256.Sum256(body)
	cl := claims{
		Body: base64.URLEncoding.EncodeToString(sum[:]),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "Upstash",
			Subject:   url,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString([]byte(key))
}
