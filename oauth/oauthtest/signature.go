package oauthtest

import (
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/dghubble/oauth1"
)

// parseAuthorization extracts the parameters of an OAuth Authorization
// header.
func parseAuthorization(header string) (map[string]string, bool) {
	rest, ok := strings.CutPrefix(header, "OAuth ")
	if !ok {
		return nil, false
	}

	params := make(map[string]string)
	for _, part := range strings.Split(rest, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return nil, false
		}
		key, err1 := url.PathUnescape(k)
		val, err2 := url.PathUnescape(strings.Trim(v, `"`))
		if err1 != nil || err2 != nil {
			return nil, false
		}
		params[key] = val
	}
	return params, true
}

// signatureBase rebuilds the RFC 5849 section 3.4.1 base string of a
// received request. r.Form must be parsed. Like the client, only the first
// value of a repeated parameter is signed.
func signatureBase(r *http.Request, oauthParams map[string]string) string {
	u := &url.URL{Scheme: "http", Host: r.Host, Path: r.URL.Path, RawPath: r.URL.RawPath}
	return baseString(r.Method, u, r.Form, oauthParams)
}

func baseString(method string, u *url.URL, form url.Values, oauthParams map[string]string) string {
	params := make(map[string]string)
	for k, vs := range form {
		params[oauth1.PercentEncode(k)] = oauth1.PercentEncode(vs[0])
	}
	for k, v := range oauthParams {
		if k != "oauth_signature" && k != "realm" {
			params[oauth1.PercentEncode(k)] = oauth1.PercentEncode(v)
		}
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + params[k]
	}

	host := strings.ToLower(u.Host)
	if h, port, ok := strings.Cut(host, ":"); ok && (port == "80" || port == "443") {
		host = h
	}
	uri := strings.ToLower(u.Scheme) + "://" + host + u.EscapedPath()

	return strings.ToUpper(method) + "&" + oauth1.PercentEncode(uri) + "&" + oauth1.PercentEncode(strings.Join(pairs, "&"))
}

// expectedSignature returns what a client holding the consumer and token
// secrets sends for method.
func expectedSignature(method, base, consumerSecret, tokenSecret string) (string, bool) {
	switch method {
	case "PLAINTEXT":
		return oauth1.PercentEncode(consumerSecret) + "&" + oauth1.PercentEncode(tokenSecret), true
	case "HMAC-SHA1":
		sig, err := (&oauth1.HMACSigner{ConsumerSecret: consumerSecret}).Sign(tokenSecret, base)
		return sig, err == nil
	}
	return "", false
}
