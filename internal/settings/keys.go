package settings

// Setting keys.
const (
	KeyServerURL    = "server_url"
	KeyUsername     = "username"
	KeyPassword     = "password"
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
)

// redactedValue replaces secrets in Redacted output.
const redactedValue = "********"

var knownKeys = map[string]bool{
	KeyServerURL:    true,
	KeyUsername:     true,
	KeyPassword:     true,
	KeyAccessToken:  true,
	KeyRefreshToken: true,
}

var secretKeys = map[string]bool{
	KeyPassword:     true,
	KeyAccessToken:  true,
	KeyRefreshToken: true,
}

// IsCredentialKey reports whether key is one of the three operator-supplied
// connection settings whose change requires a new session.
func IsCredentialKey(key string) bool {
	return key == KeyServerURL || key == KeyUsername || key == KeyPassword
}

// IsTokenKey reports whether key holds a gateway token.
func IsTokenKey(key string) bool {
	return key == KeyAccessToken || key == KeyRefreshToken
}

// Credentials is a point-in-time view of the connection settings.
type Credentials struct {
	ServerURL    string
	Username     string
	Password     string
	AccessToken  string
	RefreshToken string
}

// Complete reports whether enough is configured to attempt a login.
func (c Credentials) Complete() bool {
	return c.ServerURL != "" && c.Username != "" && c.Password != ""
}
