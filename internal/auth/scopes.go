package auth

const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeOfflineAccess = "offline_access"
)

// AllScopes is requested on every device login.
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeOfflineAccess,
}
