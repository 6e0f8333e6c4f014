package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims identify one collaborator device: the application, the push relay or
// the OS call-UI bridge. Every token is bound to a DeviceID.
type Claims struct {
	jwt.RegisteredClaims

	DeviceID  string    `json:"device_id"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
