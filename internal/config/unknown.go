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

// knownKeys lists the valid keys per section; "" is the top level.
var knownKeys = map[string][]string{
	"":        {"token_store_path", "state_db_path", "max_credential_attempts", "garmin", "tracker", "sync", "logging"},
	"garmin":  {"sso_url", "api_url", "connect_timeout", "data_timeout", "user_agent"},
	"tracker": {"url", "token"},
	"sync":    {"default_days", "parallel_fetch", "requests_per_second"},
	"logging": {"log_level", "log_file", "log_retention_days"},
}

func init() {
	// Sorted for deterministic suggestions when two candidates tie.
	for _, keys := range knownKeys {
		sort.Strings(keys)
	}
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	seen := make(map[string]bool)

	for _, key := range md.Undecoded() {
		name, err := unknownKeyError(key)
		if seen[name] {
			continue
		}

		seen[name] = true
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// unknownKeyError describes one undecoded key, suggesting the closest known
// key in the same section. Keys under an unknown section are reported once,
// as the section.
func unknownKeyError(key toml.Key) (string, error) {
	section, field := "", key[len(key)-1]
	if len(key) > 1 {
		section = key[0]
	}

	name := strings.Join(key, ".")

	known, ok := knownKeys[section]
	if !ok {
		field, name = key[0], key[0]
		known = knownKeys[""]
	}

	if suggestion := closestMatch(field, known); suggestion != "" {
		return name, fmt.Errorf("unknown config key %q (did you mean %q?)", name, suggestion)
	}

	return name, fmt.Errorf("unknown config key %q", name)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
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
