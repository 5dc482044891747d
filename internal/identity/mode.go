package identity

// Mode is the construction mode of a Manager, resolved once from its options.
type Mode int

const (
	// ModeToken holds an externally obtained token and its expiry.
	ModeToken Mode = iota

	// ModePassword signs in, and refreshes, with a username and password.
	ModePassword

	// ModeRefreshToken refreshes through an OAuth client id and refresh token.
	ModeRefreshToken

	// ModeServer holds a credential for a single, possibly unfederated, server.
	ModeServer
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeToken:
		return "token"
	case ModePassword:
		return "password"
	case ModeRefreshToken:
		return "refresh-token"
	case ModeServer:
		return "server"
	default:
		return "unknown"
	}
}

func resolveMode(o *Options) Mode {
	switch {
	case o.Server != "":
		return ModeServer
	case o.ClientID != "" && o.RefreshToken != "":
		return ModeRefreshToken
	case o.Username != "" && o.Password != "":
		return ModePassword
	default:
		return ModeToken
	}
}
