package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// oauth2Provider implements the OAuth 2.0 authorization code grant on top
// of golang.org/x/oauth2.
type oauth2Provider struct {
	base
	conf *oauth2.Config
}

func (p *oauth2Provider) Initialize(settings Settings) error {
	return p.initialize(settings, func() error {
		p.conf = &oauth2.Config{
			ClientID:     settings.APIKey,
			ClientSecret: settings.APISecret,
			RedirectURL:  settings.Callback,
			Scopes:       p.joinScopes(p.scopes()),
			Endpoint: oauth2.Endpoint{
				AuthURL:   p.api.AuthorizeURL,
				TokenURL:  p.api.TokenURL,
				AuthStyle: authStyle(p.api.AuthStyle),
			},
		}
		return nil
	})
}

// joinScopes folds scopes into one value for providers that do not use
// spaces as separator.
func (p *oauth2Provider) joinScopes(scopes []string) []string {
	sep := p.api.ScopeSeparator
	if sep == "" || sep == " " || len(scopes) < 2 {
		return scopes
	}
	return []string{strings.Join(scopes, sep)}
}

func authStyle(s string) oauth2.AuthStyle {
	switch s {
	case "header":
		return oauth2.AuthStyleInHeader
	case "params":
		return oauth2.AuthStyleInParams
	default:
		return oauth2.AuthStyleAutoDetect
	}
}

func (p *oauth2Provider) Version() string { return Version20 }

func (p *oauth2Provider) VerifierParamName() string { return "code" }

// RequestToken is a no-op: 2.0 has no request token phase.
func (p *oauth2Provider) RequestToken(context.Context) (Token, error) {
	if err := p.ready("request token"); err != nil {
		return Token{}, err
	}
	return Token{}, nil
}

func (p *oauth2Provider) AccessToken(ctx context.Context, _ Token, code string) (Token, error) {
	return p.exchange(ctx, code)
}

func (p *oauth2Provider) AuthorizationURL(_ Token, state string) (string, error) {
	if err := p.ready("authorization url"); err != nil {
		return "", err
	}
	return p.conf.AuthCodeURL(state), nil
}

func (p *oauth2Provider) UsesPKCE() bool {
	return p.api.PKCE
}

func (p *oauth2Provider) AuthorizationURLPKCE(state, codeVerifier string) (string, error) {
	if err := p.ready("authorization url"); err != nil {
		return "", err
	}
	return p.conf.AuthCodeURL(state, oauth2.S256ChallengeOption(codeVerifier)), nil
}

func (p *oauth2Provider) AccessTokenPKCE(ctx context.Context, code, codeVerifier string) (Token, error) {
	return p.exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
}

func (p *oauth2Provider) exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (Token, error) {
	const op = "access token"
	if err := p.ready(op); err != nil {
		return Token{}, err
	}
	if code == "" {
		return Token{}, &Error{Kind: ErrTokenExchange, Provider: p.Name(), Op: op, Description: "missing authorization code"}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient())
	tok, err := p.conf.Exchange(ctx, code, opts...)
	if err != nil {
		return Token{}, p.retrieveError(op, err)
	}
	return fromOAuth2(tok), nil
}

// Refresh trades the refresh token of accessToken for a new access token
// through the config's TokenSource. A response without a refresh token
// keeps the old one.
func (p *oauth2Provider) Refresh(ctx context.Context, accessToken Token) (Token, error) {
	const op = "refresh token"
	if err := p.ready(op); err != nil {
		return Token{}, err
	}
	if accessToken.RefreshToken() == "" {
		return Token{}, &Error{Kind: ErrTokenExchange, Provider: p.Name(), Op: op, Description: "no refresh token"}
	}

	// Without an access token the source always asks the token endpoint.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient())
	tok, err := p.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: accessToken.RefreshToken()}).Token()
	if err != nil {
		return Token{}, p.retrieveError(op, err)
	}
	return fromOAuth2(tok), nil
}

func (p *oauth2Provider) retrieveError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		e := &Error{Kind: ErrTokenExchange, Provider: p.Name(), Op: op,
			Code: re.ErrorCode, Description: re.ErrorDescription, Err: err}
		if e.Code == "" && re.Response != nil {
			e.Code = fmt.Sprint(re.Response.StatusCode)
		}
		return e
	}
	return newError(ErrTokenExchange, p.Name(), op, err)
}

func fromOAuth2(tok *oauth2.Token) Token {
	raw := make(map[string]string)
	for _, k := range []string{"scope", "id_token"} {
		if v, ok := tok.Extra(k).(string); ok && v != "" {
			raw[k] = v
		}
	}

	return Token{
		value:        tok.AccessToken,
		tokenType:    tok.TokenType,
		refreshToken: tok.RefreshToken,
		expiry:       tok.Expiry,
		raw:          raw,
	}
}

// httpClient adapts the configured HTTPClient to the *http.Client that
// x/oauth2 takes from the context.
func (p *oauth2Provider) httpClient() *http.Client {
	if c, ok := p.client.(*http.Client); ok {
		return c
	}
	return &http.Client{Transport: roundTripFunc(p.client.Do), Timeout: p.settings.HTTPTimeout}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func (p *oauth2Provider) Sign(accessToken Token, req *Request) error {
	const op = "sign"
	if err := p.ready(op); err != nil {
		return err
	}
	if accessToken.IsZero() {
		return newError(ErrNotConnected, p.Name(), op, nil)
	}

	// SetAuthHeader only touches the header map, which is shared with req.
	t := &oauth2.Token{AccessToken: accessToken.Value(), TokenType: accessToken.Type()}
	t.SetAuthHeader(&http.Request{Header: req.Header()})
	return nil
}
