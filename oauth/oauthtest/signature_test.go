package oauthtest

import (
	"net/url"
	"testing"
)

// Vector from OAuth Core 1.0 Appendix A.5.
func TestBaseStringAndHMAC(t *testing.T) {
	u, _ := url.Parse("http://photos.example.net/photos")
	form := url.Values{"file": {"vacation.jpg"}, "size": {"original"}}
	oauthParams := map[string]string{
		"oauth_consumer_key":     "dpf43f3p2l4k3l03",
		"oauth_token":            "nnch734d00sl2jdk",
		"oauth_nonce":            "kllo9940pd9333jh",
		"oauth_timestamp":        "1191242096",
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_version":          "1.0",
		"oauth_signature":        "ignored",
	}

	base := baseString("get", u, form, oauthParams)
	wantBase := "GET&http%3A%2F%2Fphotos.example.net%2Fphotos&file%3Dvacation.jpg%26oauth_consumer_key%3Ddpf43f3p2l4k3l03%26oauth_nonce%3Dkllo9940pd9333jh%26oauth_signature_method%3DHMAC-SHA1%26oauth_timestamp%3D1191242096%26oauth_token%3Dnnch734d00sl2jdk%26oauth_version%3D1.0%26size%3Doriginal"
	if base != wantBase {
		t.Fatalf("baseString() =\n%s\nwant\n%s", base, wantBase)
	}

	got, ok := expectedSignature("HMAC-SHA1", base, "kd94hf93k423kf44", "pfkkdhi9sl3r4s00")
	if !ok || got != "tR3+Ty81lMeYAr/Fid0kMTYa/WM=" {
		t.Errorf("expectedSignature() = %q, %v", got, ok)
	}
	if got, _ := expectedSignature("PLAINTEXT", base, "c s", "t&s"); got != "c%20s&t%26s" {
		t.Errorf("PLAINTEXT signature = %q", got)
	}
	if _, ok := expectedSignature("RSA-SHA1", base, "", ""); ok {
		t.Error("unsupported method accepted")
	}
}

func TestBaseStringDropsDefaultPort(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://Example.com:80/r%20v/X", "GET&http%3A%2F%2Fexample.com%2Fr%2520v%2FX&"},
		{"https://www.example.net:8080/", "GET&https%3A%2F%2Fwww.example.net%3A8080%2F&"},
	}

	for _, tt := range tests {
		u, err := url.Parse(tt.in)
		if err != nil {
			t.Fatal(err)
		}
		if got := baseString("GET", u, nil, nil); got != tt.want {
			t.Errorf("baseString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseAuthorization(t *testing.T) {
	header := `OAuth oauth_callback="http%3A%2F%2Flocalhost%3A8080%2Fcallback%3Fx%3D1", oauth_consumer_key="key", oauth_signature="tR3%2BTy81lMeYAr%2FFid0kMTYa%2FWM%3D"`

	params, ok := parseAuthorization(header)
	if !ok {
		t.Fatal("parseAuthorization() rejected a valid header")
	}
	want := map[string]string{
		"oauth_consumer_key": "key",
		"oauth_signature":    "tR3+Ty81lMeYAr/Fid0kMTYa/WM=",
		"oauth_callback":     "http://localhost:8080/callback?x=1",
	}
	for k, v := range want {
		if params[k] != v {
			t.Errorf("param %s = %q, want %q", k, params[k], v)
		}
	}

	if _, ok := parseAuthorization("Bearer abc"); ok {
		t.Error("parseAuthorization() accepted a bearer header")
	}
}
