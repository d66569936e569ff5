// Package oauth is an OAuth 1.0a and 2.0 client: it negotiates request and
// access tokens with a provider on behalf of many users and signs the API
// calls made with them.
//
// # Building Blocks
//
//   - API describes a provider's endpoints. Registry maps provider names to
//     APIs, by explicit binding or by the "<Name>Api" convention, and can be
//     extended from a YAML catalog.
//   - Provider adapts one API: it fetches tokens, builds authorization URLs
//     and signs requests. NewProvider picks the 1.0a (HMAC-SHA1/PLAINTEXT)
//     or 2.0 (golang.org/x/oauth2, optional PKCE) variant.
//   - Session holds the token state of one (identity, provider) pair and
//     SessionResolver finds it. MemoryResolver keeps sessions in process;
//     StoreResolver persists them in a cache.Cache, optionally sealed.
//   - Service drives the flow for one provider and is the only path for
//     signed requests. Hub holds one Service per configured provider.
//
// # Flow
//
// The identity of the current user travels in the context:
//
//	ctx = oauth.WithIdentity(ctx, userID)
//
//	authURL, err := svc.AuthorizationURL(ctx)    // redirect the user here
//	...
//	// provider calls back with ?<svc.VerifierParamName()>=...
//	err = svc.CheckState(ctx, r.URL.Query().Get("state"))
//	err = svc.SetVerifier(ctx, r.URL.Query().Get(svc.VerifierParamName()))
//	err = svc.CompleteAuthorization(ctx)
//
//	var me Profile
//	err = svc.Get(ctx, "/users/{0}", &me, "42")
//
// A session moves from no token to holding a request token (1.0a only) to
// connected. Concurrent completions on one session perform a single
// exchange; completing a connected session does nothing.
//
// # Configuration
//
// Settings come from the environment:
//
//	BEAVER_OAUTH_PROVIDERS=twitter,github
//	BEAVER_OAUTH_TWITTER_API_KEY=...
//	BEAVER_OAUTH_TWITTER_API_SECRET=...
//	BEAVER_OAUTH_TWITTER_CALLBACK=https://app.example/oauth/twitter/callback
//	BEAVER_OAUTH_GITHUB_SCOPE=read:user
//
// and are turned into services with
//
//	settings, err := oauth.LoadHubSettings()
//	hub, err := oauth.NewHub(oauth.HubConfig{Settings: settings})
//	svc, err := hub.Service("twitter")
//
// # Errors
//
// Every error matches one of the Err* kinds through errors.Is, e.g.
// ErrTokenExchange for a rejected verifier or ErrNotConnected for a signed
// request on a session without access token. Typed helpers report non-2xx
// responses as *StatusError.
package oauth
