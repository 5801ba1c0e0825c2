package recall

import "strings"

const fingerprintCap = 100

// DedupAgainstLiveContext filters out any result whose session title OR
// any context message, case-folded and truncated to the first 100
// characters, already appears (as a substring) in activeHistory.
func DedupAgainstLiveContext(results []Result, activeHistory []string) []Result {
	fingerprints := make([]string, 0, len(activeHistory))
	for _, h := range activeHistory {
		fingerprints = append(fingerprints, strings.ToLower(h))
	}

	filtered := make([]Result, 0, len(results))
	for _, r := range results {
		if matchesAny(fold(r.Session.Title), fingerprints) {
			continue
		}
		if containsAnyMessage(r, fingerprints) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

func containsAnyMessage(r Result, fingerprints []string) bool {
	for _, m := range r.ContextMessages {
		if matchesAny(fold(m.Content), fingerprints) {
			return true
		}
	}
	return false
}

func matchesAny(fingerprint string, haystacks []string) bool {
	for _, h := range haystacks {
		if fingerprint != "" && strings.Contains(h, fingerprint) {
			return true
		}
	}
	return false
}

func fold(s string) string {
	s = strings.ToLower(s)
	if r := []rune(s); len(r) > fingerprintCap {
		s = string(r[:fingerprintCap])
	}
	return s
}
