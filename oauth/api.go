package oauth

import (
	"fmt"
	"strings"
)

// API describes a provider's endpoints. Providers are built from it by
// NewProvider; there is no per-provider code.
type API struct {
	ID      string `yaml:"id"`
	Version string `yaml:"version"`

	// OAuth 1.0a endpoints
	RequestTokenURL string `yaml:"request_token_url"`
	AccessTokenURL  string `yaml:"access_token_url"`
	SignatureMethod string `yaml:"signature_method"` // HMAC-SHA1 (default) or PLAINTEXT

	// AuthorizeURL is the user-facing endpoint for both versions.
	AuthorizeURL string `yaml:"authorize_url"`

	// OAuth 2.0
	TokenURL       string   `yaml:"token_url"`
	AuthStyle      string   `yaml:"auth_style"` // "header", "params" or "" to autodetect
	PKCE           bool     `yaml:"pkce"`
	DefaultScope   []string `yaml:"default_scope"`
	ScopeSeparator string   `yaml:"scope_separator"`

	// BaseURL resolves relative request URIs.
	BaseURL string `yaml:"base_url"`
}

// Signature methods.
const (
	HMACSHA1  = "HMAC-SHA1"
	PLAINTEXT = "PLAINTEXT"
)

// Validate checks that the endpoints for the API's version are set.
func (a API) Validate() error {
	var problems []string
	if a.ID == "" {
		problems = append(problems, "missing id")
	}

	switch a.Version {
	case Version10:
		if a.RequestTokenURL == "" || a.AccessTokenURL == "" || a.AuthorizeURL == "" {
			problems = append(problems, "1.0 APIs need request_token_url, authorize_url and access_token_url")
		}
		switch a.SignatureMethod {
		case "", HMACSHA1, PLAINTEXT:
		default:
			problems = append(problems, fmt.Sprintf("unsupported signature method %q", a.SignatureMethod))
		}
	case Version20:
		if a.AuthorizeURL == "" || a.TokenURL == "" {
			problems = append(problems, "2.0 APIs need authorize_url and token_url")
		}
		switch a.AuthStyle {
		case "", "header", "params":
		default:
			problems = append(problems, fmt.Sprintf("unsupported auth style %q", a.AuthStyle))
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported version %q", a.Version))
	}

	if len(problems) > 0 {
		return &Error{Kind: ErrConfiguration, Provider: a.ID, Op: "validate api",
			Description: strings.Join(problems, "; ")}
	}
	return nil
}

func (a API) resolve(uri string) string {
	if a.BaseURL == "" || strings.Contains(uri, "://") {
		return uri
	}
	return strings.TrimRight(a.BaseURL, "/") + "/" + strings.TrimLeft(uri, "/")
}

// Built-in APIs.
var (
	TwitterAPI = API{
		ID:              "TwitterApi",
		Version:         Version10,
		RequestTokenURL: "https://api.twitter.com/oauth/request_token",
		AuthorizeURL:    "https://api.twitter.com/oauth/authorize",
		AccessTokenURL:  "https://api.twitter.com/oauth/access_token",
		BaseURL:         "https://api.twitter.com/1.1",
	}

	TumblrAPI = API{
		ID:              "TumblrApi",
		Version:         Version10,
		RequestTokenURL: "https://www.tumblr.com/oauth/request_token",
		AuthorizeURL:    "https://www.tumblr.com/oauth/authorize",
		AccessTokenURL:  "https://www.tumblr.com/oauth/access_token",
		BaseURL:         "https://api.tumblr.com/v2",
	}

	GitHubAPI = API{
		ID:           "GitHubApi",
		Version:      Version20,
		AuthorizeURL: "https://github.com/login/oauth/authorize",
		TokenURL:     "https://github.com/login/oauth/access_token",
		DefaultScope: []string{"read:user", "user:email"},
		BaseURL:      "https://api.github.com",
	}

	GoogleAPI = API{
		ID:           "GoogleApi",
		Version:      Version20,
		AuthorizeURL: "https://accounts.google.com/o/oauth2/auth",
		TokenURL:     "https://oauth2.googleapis.com/token",
		AuthStyle:    "params",
		PKCE:         true,
		DefaultScope: []string{"openid", "email", "profile"},
		BaseURL:      "https://www.googleapis.com",
	}

	FacebookAPI = API{
		ID:             "FacebookApi",
		Version:        Version20,
		AuthorizeURL:   "https://www.facebook.com/v18.0/dialog/oauth",
		TokenURL:       "https://graph.facebook.com/v18.0/oauth/access_token",
		DefaultScope:   []string{"public_profile", "email"},
		ScopeSeparator: ",",
		BaseURL:        "https://graph.facebook.com/v18.0",
	}

	LinkedInAPI = API{
		ID:           "LinkedInApi",
		Version:      Version20,
		AuthorizeURL: "https://www.linkedin.com/oauth/v2/authorization",
		TokenURL:     "https://www.linkedin.com/oauth/v2/accessToken",
		AuthStyle:    "params",
		DefaultScope: []string{"openid", "profile", "email"},
		BaseURL:      "https://api.linkedin.com/v2",
	}
)
