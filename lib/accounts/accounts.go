// Package accounts parses credential directories out of the flat
// "user:pass" format the config carries, the same format people paste
// into scheduler environment variables.
package accounts

import (
	"log/slog"
	"strings"

	"checkin-backend/lib/engine"
)

// Parse splits a directory string into accounts. Entries are separated
// by "@", "&" or newlines; each entry is "identity:secret" with the
// secret allowed to contain further colons. Malformed entries are
// logged and skipped, they never fail the rest of the directory.
func Parse(raw string) []engine.Account {
	normalized := strings.NewReplacer("@", "&", "\n", "&").Replace(raw)

	var out []engine.Account
	for _, entry := range strings.Split(normalized, "&") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		identity, secret, found := strings.Cut(entry, ":")
		identity = strings.TrimSpace(identity)
		secret = strings.TrimSpace(secret)
		if !found || identity == "" || secret == "" {
			slog.Warn("skipping malformed account entry", "entry", entry)
			continue
		}
		out = append(out, engine.Account{Identity: identity, Secret: secret})
	}
	return out
}
