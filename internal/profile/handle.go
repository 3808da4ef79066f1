package profile

import (
	"strings"
	"unicode"

	"tapit-auth/internal/auth"
)

// fallbackFragmentLen is how many id characters a fallback handle keeps.
const fallbackFragmentLen = 8

// DeriveHandle picks the handle of a new profile: the handle requested at
// sign-up, else the display name, else the email local part. The result
// is lower-case [a-z0-9]; when nothing survives, a fragment of the
// identity id is used instead.
func DeriveHandle(identity *auth.Identity) string {
	for _, candidate := range []string{
		identity.PreferredHandle,
		identity.DisplayName,
		emailLocalPart(identity.Email),
	} {
		if h := NormalizeHandle(candidate); h != "" {
			return h
		}
	}

	h := NormalizeHandle(identity.ID)
	if len(h) > fallbackFragmentLen {
		h = h[:fallbackFragmentLen]
	}
	if h == "" {
		return "user"
	}
	return h
}

// NormalizeHandle lower-cases s and drops every character outside [a-z0-9].
func NormalizeHandle(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r > unicode.MaxASCII {
			continue
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func emailLocalPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}
