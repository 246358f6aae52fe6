package identity

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the fields of a session credential the client cares about.
type Claims struct {
	GuestMode   bool   `json:"guest_mode"`
	NetworkID   string `json:"network_id,omitempty"`
	NetworkName string `json:"network_name,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
}

// ParseClaims reads the claims of token without verifying its signature. The server
// verifies every credential it receives.
func ParseClaims(token string) (Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return Claims{}, fmt.Errorf("parse jwt: %w", err)
	}
	var c Claims
	if v, ok := mc["guest_mode"].(bool); ok {
		c.GuestMode = v
	}
	c.NetworkID, _ = mc["network_id"].(string)
	c.NetworkName, _ = mc["network_name"].(string)
	c.ClientID, _ = mc["client_id"].(string)
	return c, nil
}
