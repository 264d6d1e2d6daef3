package session

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var errInvalidToken = errors.New("invalid token")

type adminClaims struct {
	SessionId string `json:"session_id"`
	jwt.RegisteredClaims
}

// generateAdminToken signs a token granting administration of the session.
func (s *service) generateAdminToken(sessionId string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, adminClaims{SessionId: sessionId})

	return token.SignedString([]byte(s.cfg.Secret))
}

func (s *service) parseAdminToken(tokenString string) (string, error) {
	var claims adminClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return []byte(s.cfg.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %w", errInvalidToken, err)
	}

	if !token.Valid || claims.SessionId == "" {
		return "", errInvalidToken
	}

	return claims.SessionId, nil
}
