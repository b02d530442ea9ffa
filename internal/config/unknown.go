package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each section.
var knownKeys = map[string][]string{
	"server":  {"listen", "public_url", "shutdown_timeout"},
	"line":    {"channel_secret", "channel_token", "max_content_size"},
	"oauth":   {"client_id", "client_secret", "tenant", "scopes", "state_ttl"},
	"storage": {"backend", "dsn", "store_timeout"},
	"state":   {"backend", "redis_addr", "redis_password", "redis_db"},
	"drive":   {"folder", "api_base_url"},
	"fanout": {
		"workers", "refresh_margin", "refresh_timeout", "upload_timeout",
		"notify_timeout", "fanout_deadline",
	},
	"archive": {"backend", "dir", "endpoint", "access_key", "secret_key", "bucket", "region"},
	"logging": {"log_level", "log_format"},
}

// knownSections is the sorted list of section names, for deterministic
// suggestions when two candidates have the same edit distance.
var knownSections = func() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		errs = append(errs, unknownKeyError(key))
	}

	return errors.Join(errs...)
}

func unknownKeyError(key toml.Key) error {
	if len(key) == 1 {
		return withSuggestion(fmt.Sprintf("unknown config key %q", key[0]), key[0], knownSections)
	}

	section, field := key[0], key[1]

	fields, ok := knownKeys[section]
	if !ok {
		return withSuggestion(fmt.Sprintf("unknown config section [%s]", section), section, knownSections)
	}

	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)

	return withSuggestion(fmt.Sprintf("unknown key %q in [%s]", field, section), field, sorted)
}

func withSuggestion(msg, unknown string, known []string) error {
	if s := closestMatch(unknown, known); s != "" {
		return fmt.Errorf("%s, did you mean %q?", msg, s)
	}

	return errors.New(msg)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(strings.ToLower(unknown), k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization avoids allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
