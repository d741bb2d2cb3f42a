package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

var b64 = base64.RawURLEncoding

// Identity validates the HS256 principal token minted by the external
// identity layer and exposes the trusted principal to handlers. The engine
// never manages sessions itself; it only verifies what the identity service
// asserted.
func Identity(secret string) fiber.Handler {
	key := []byte(secret)
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])
		claims, err := parseAndVerifyHS256(tokenStr, key)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		if expFloat, ok := claims["exp"].(float64); ok {
			if time.Now().Unix() >= int64(expFloat) {
				return fiber.NewError(http.StatusUnauthorized, "token expired")
			}
		}
		sub, _ := claims["sub"].(string)
		if sub == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing subject")
		}

		c.Locals("principal_id", sub)
		return c.Next()
	}
}

// parseAndVerifyHS256 verifies a compact HS256 JWT and returns its claims.
func parseAndVerifyHS256(token string, secret []byte) (map[string]any, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errors.New("invalid token format")
	}
	unsigned := parts[0] + "." + parts[1]
	sigBytes, err := b64.DecodeString(parts[2])
	if err != nil {
		return nil, errors.New("invalid signature encoding")
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(unsigned))
	if !hmac.Equal(sigBytes, mac.Sum(nil)) {
		return nil, errors.New("signature mismatch")
	}
	payload, err := b64.DecodeString(parts[1])
	if err != nil {
		return nil, errors.New("invalid payload encoding")
	}
	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, errors.New("invalid claims json")
	}
	return claims, nil
}
