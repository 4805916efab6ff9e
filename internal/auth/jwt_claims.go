package auth

import (
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relaycore/relaycore/internal/conf"
)

// customClaims decodes the registered JWT claims plus whichever claim
// key (configurable, since deployments disagree on the name) carries
// the permission list.
type customClaims struct {
	jwt.RegisteredClaims
	permissionsKey string
	permissions    []conf.AuthInternalUserPermission
}

// UnmarshalJSON implements json.Unmarshaler. jwt.ParseWithClaims calls
// this directly on the raw claim set.
func (c *customClaims) UnmarshalJSON(b []byte) error {
	if err := json.Unmarshal(b, &c.RegisteredClaims); err != nil {
		return err
	}

	var claimMap map[string]json.RawMessage
	if err := json.Unmarshal(b, &claimMap); err != nil {
		return err
	}

	raw, ok := claimMap[c.permissionsKey]
	if !ok {
		return fmt.Errorf("claim '%s' not found inside JWT", c.permissionsKey)
	}

	if err := json.Unmarshal(raw, &c.permissions); err != nil {
		// some issuers embed the permission list as a JSON string
		// rather than a nested array; fall back to that shape.
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return err
		}
		return json.Unmarshal([]byte(str), &c.permissions)
	}

	return nil
}
