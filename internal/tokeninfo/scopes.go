package tokeninfo

import "sort"

// scopeSatisfied reports whether a single required scope is covered by the
// granted set, either verbatim or through one of its configured aliases.
func scopeSatisfied(required string, granted map[string]bool, aliases map[string][]string) bool {
	if granted[required] {
		return true
	}
	for _, alias := range aliases[required] {
		if granted[alias] {
			return true
		}
	}
	return false
}

// missingScopes returns the required scopes the granted set does not cover.
func missingScopes(required []string, scopes []string, aliases map[string][]string) []string {
	if len(required) == 0 {
		return nil
	}
	granted := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		granted[s] = true
	}
	var missing []string
	for _, req := range required {
		if !scopeSatisfied(req, granted, aliases) {
			missing = append(missing, req)
		}
	}
	return missing
}

// enrichScopes appends the short name of every alias group the granted set
// matches, preserving the original scopes first and avoiding duplicates.
// Alias groups are visited in sorted order so the result is deterministic.
func enrichScopes(scopes []string, aliases map[string][]string) []string {
	if len(aliases) == 0 {
		return scopes
	}
	seen := make(map[string]bool, len(scopes))
	out := make([]string, 0, len(scopes)+len(aliases))
	for _, s := range scopes {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	short := make([]string, 0, len(aliases))
	for name := range aliases {
		short = append(short, name)
	}
	sort.Strings(short)
	for _, name := range short {
		if seen[name] {
			continue
		}
		for _, alias := range aliases[name] {
			if seen[alias] {
				seen[name] = true
				out = append(out, name)
				break
			}
		}
	}
	return out
}
