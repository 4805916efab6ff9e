package conf

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// AuthAction is an action an authentication request is gating.
type AuthAction string

// auth actions.
const (
	AuthActionPublish  AuthAction = "publish"
	AuthActionRead     AuthAction = "read"
	AuthActionPlayback AuthAction = "playback"
	AuthActionAPI      AuthAction = "api"
)

// AuthMethod selects how Authenticate resolves a Request.
type AuthMethod int

// authentication methods.
const (
	AuthMethodInternal AuthMethod = iota
	AuthMethodHTTP
	AuthMethodJWT
)

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *AuthMethod) UnmarshalYAML(value *yaml.Node) error {
	var in string
	if err := value.Decode(&in); err != nil {
		return err
	}

	switch in {
	case "internal":
		*d = AuthMethodInternal
	case "http":
		*d = AuthMethodHTTP
	case "jwt":
		*d = AuthMethodJWT
	default:
		return fmt.Errorf("invalid auth method: '%s'", in)
	}

	return nil
}

// AuthInternalUserPermission grants one AuthAction, optionally scoped
// to a path (exact match, or a "~"-prefixed regexp; empty means any).
type AuthInternalUserPermission struct {
	Action AuthAction `yaml:"action"`
	Path   string     `yaml:"path"`
}

// AuthInternalUser is a statically configured user checked by
// AuthMethodInternal.
type AuthInternalUser struct {
	User        Credential                   `yaml:"user"`
	Pass        Credential                   `yaml:"pass"`
	IPs         IPNetworks                   `yaml:"ips"`
	Permissions []AuthInternalUserPermission `yaml:"permissions"`
}

// DefaultAuthInternalUsers grants every action, unauthenticated, the
// same default posture the teacher ships for a fresh install.
var DefaultAuthInternalUsers = []AuthInternalUser{
	{
		User: "any",
		Pass: "",
		Permissions: []AuthInternalUserPermission{
			{Action: AuthActionPublish},
			{Action: AuthActionRead},
			{Action: AuthActionPlayback},
		},
	},
}
