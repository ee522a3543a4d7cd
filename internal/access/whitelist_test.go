package access

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gpu-mode/kernelboard/internal/auth"
)

func TestDeriveProviderIdentity(t *testing.T) {
	testCases := []struct {
		name             string
		claims           auth.SessionClaims
		expectedProvider string
		expectedIdentity string
	}{
		{name: "prefixed", claims: auth.SessionClaims{UserID: "discord:1234"}, expectedProvider: "discord", expectedIdentity: "1234"},
		{name: "identity-with-colon", claims: auth.SessionClaims{UserID: "github:org:42"}, expectedProvider: "github", expectedIdentity: "org:42"},
		{name: "no-prefix", claims: auth.SessionClaims{UserID: "1234"}},
		{name: "empty-identity", claims: auth.SessionClaims{UserID: "discord: "}},
		{
			name:             "subject-fallback",
			claims:           auth.SessionClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "discord:77"}},
			expectedProvider: "discord",
			expectedIdentity: "77",
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			provider, identity := DeriveProviderIdentity(testCase.claims)
			if provider != testCase.expectedProvider || identity != testCase.expectedIdentity {
				t.Fatalf("expected (%q, %q), got (%q, %q)", testCase.expectedProvider, testCase.expectedIdentity, provider, identity)
			}
		})
	}
}

func TestWhitelistAllows(t *testing.T) {
	whitelist := NewWhitelist([]string{" 1234 ", "", "5678"})
	if whitelist.Size() != 2 {
		t.Fatalf("expected two identities, got %d", whitelist.Size())
	}
	if !whitelist.Allows(auth.SessionClaims{UserID: "discord:1234"}) {
		t.Fatalf("expected whitelisted identity to be allowed")
	}
	if whitelist.Allows(auth.SessionClaims{UserID: "discord:9999"}) {
		t.Fatalf("expected unknown identity to be rejected")
	}
	if whitelist.Allows(auth.SessionClaims{UserID: "1234"}) {
		t.Fatalf("expected unprefixed user id to be rejected")
	}
}

func TestNilWhitelistAllowsNobody(t *testing.T) {
	var whitelist *Whitelist
	if whitelist.Allows(auth.SessionClaims{UserID: "discord:1234"}) {
		t.Fatalf("nil whitelist must not allow anyone")
	}
	if NewWhitelist(nil).Allows(auth.SessionClaims{UserID: "discord:1234"}) {
		t.Fatalf("empty whitelist must not allow anyone")
	}
}
