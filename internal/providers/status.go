package providers

import "strings"

// StatusTable maps a backend's native status vocabulary onto Status.
type StatusTable map[string]Status

// Map normalizes native. Unknown values map to pending so an unrecognised
// state is polled again instead of being treated as done.
func (t StatusTable) Map(native string) Status {
	key := strings.ToLower(strings.TrimSpace(native))
	if s, ok := t[key]; ok {
		return s
	}
	return StatusPending
}
