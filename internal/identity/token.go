package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"tutorlink/chat/internal/models"
)

// ErrNoUserClaim means the token is valid but carries no user id; the caller
// should resolve the identity through the API instead.
var ErrNoUserClaim = errors.New("token has no user id claim")

// LoadToken returns the bearer token from the explicit value, or the token
// file, or ~/.config/tutorlink/token. Empty means logged out.
func LoadToken(explicit, tokenFile string) string {
	if explicit != "" {
		return strings.TrimSpace(explicit)
	}

	if tokenFile == "" {
		configDir := os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return ""
			}
			configDir = filepath.Join(homeDir, ".config")
		}
		tokenFile = filepath.Join(configDir, "tutorlink", "token")
	}

	data, err := os.ReadFile(tokenFile)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ParseToken extracts the identity from a bearer token. With a secret the
// HS256 signature and expiry are verified; without one the claims are read
// unverified and only expiry is checked.
func ParseToken(token, secret string) (*models.Identity, error) {
	claims := jwt.MapClaims{}

	if secret != "" {
		_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			return nil, fmt.Errorf("invalid token: %w", err)
		}
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("malformed token: %w", err)
		}
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.Before(time.Now()) {
			return nil, fmt.Errorf("invalid token: %w", jwt.ErrTokenExpired)
		}
	}

	id, ok := userIDClaim(claims)
	if !ok {
		return nil, ErrNoUserClaim
	}

	role, _ := claims["role"].(string)
	name, _ := claims["full_name"].(string)
	return &models.Identity{ID: id, Role: role, FullName: name}, nil
}

// Sign issues an HS256 token for id, for local tooling and tests.
func Sign(id *models.Identity, secret string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"id":   id.ID,
		"role": id.Role,
		"exp":  time.Now().Add(ttl).Unix(),
	}
	if id.FullName != "" {
		claims["full_name"] = id.FullName
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func userIDClaim(claims jwt.MapClaims) (int64, bool) {
	for _, key := range []string{"id", "user_id", "sub"} {
		switch v := claims[key].(type) {
		case float64:
			if v > 0 {
				return int64(v), true
			}
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				return n, true
			}
		}
	}
	return 0, false
}
