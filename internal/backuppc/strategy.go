package backuppc

import "net/http"

// Credentials are the BackupPC authentication settings of a site.
type Credentials struct {
	Username string
	Password string
	APIKey   string
}

// IsEmpty reports whether no credential of any kind is set.
func (c Credentials) IsEmpty() bool {
	return c.Username == "" && c.Password == "" && c.APIKey == ""
}

// Strategy is one way of authenticating a metrics request.
type Strategy interface {
	// Name identifies the strategy in logs.
	Name() string
	// Apply adds the strategy's credentials to the request.
	Apply(req *http.Request)
}

// APIKeyHeader carries the api key for the header strategy.
const APIKeyHeader = "X-BackupPC-Key"

type noAuth struct{}

func (noAuth) Name() string { return "none" }
func (noAuth) Apply(*http.Request) {}

type basicAuth struct {
	name     string
	username string
	password string
}

func (b basicAuth) Name() string { return b.name }

func (b basicAuth) Apply(req *http.Request) {
	req.SetBasicAuth(b.username, b.password)
}

type bearerAuth struct {
	token string
}

func (bearerAuth) Name() string { return "bearer" }

func (b bearerAuth) Apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+b.token)
}

type headerAuth struct {
	header string
	value  string
}

func (headerAuth) Name() string { return "header" }

func (h headerAuth) Apply(req *http.Request) {
	req.Header.Set(h.header, h.value)
}

// Strategies returns the authentication attempts for creds in priority order:
// anonymous access when nothing is configured, basic with the password,
// basic with the api key as password, bearer api key, and the api key header.
// A username with neither password nor api key yields no strategy.
func Strategies(creds Credentials) []Strategy {
	var out []Strategy

	if creds.IsEmpty() {
		out = append(out, noAuth{})
	}
	if creds.Username != "" && creds.Password != "" {
		out = append(out, basicAuth{name: "basic", username: creds.Username, password: creds.Password})
	}
	if creds.Username != "" && creds.APIKey != "" {
		out = append(out, basicAuth{name: "basic_api_key", username: creds.Username, password: creds.APIKey})
	}
	if creds.APIKey != "" {
		out = append(out,
			bearerAuth{token: creds.APIKey},
			headerAuth{header: APIKeyHeader, value: creds.APIKey},
		)
	}

	return out
}
