package access

import (
	"strings"

	"github.com/gpu-mode/kernelboard/internal/auth"
)

// Whitelist grants privileged read operations to a fixed set of identities.
type Whitelist struct {
	identities map[string]struct{}
}

// NewWhitelist builds a whitelist from identities, ignoring blanks.
func NewWhitelist(identities []string) *Whitelist {
	set := make(map[string]struct{}, len(identities))
	for _, identity := range identities {
		if normalized := normalize(identity); normalized != "" {
			set[normalized] = struct{}{}
		}
	}
	return &Whitelist{identities: set}
}

// Size reports the number of whitelisted identities.
func (w *Whitelist) Size() int {
	if w == nil {
		return 0
	}
	return len(w.identities)
}

// Allows reports whether the session belongs to a whitelisted identity.
func (w *Whitelist) Allows(claims auth.SessionClaims) bool {
	if w == nil || len(w.identities) == 0 {
		return false
	}
	_, identity := DeriveProviderIdentity(claims)
	if identity == "" {
		return false
	}
	_, ok := w.identities[identity]
	return ok
}

// DeriveProviderIdentity splits a "provider:identity" user id. The subject claim is
// consulted when the user id is empty. Ids without a provider prefix yield no identity.
func DeriveProviderIdentity(claims auth.SessionClaims) (string, string) {
	raw := normalize(claims.UserID)
	if raw == "" {
		raw = normalize(claims.Subject)
	}
	provider, identity, found := strings.Cut(raw, ":")
	if !found {
		return "", ""
	}
	provider = normalize(provider)
	identity = normalize(identity)
	if provider == "" || identity == "" {
		return "", ""
	}
	return provider, identity
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
