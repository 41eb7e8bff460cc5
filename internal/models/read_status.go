package models

// ReadStatus tells a caller how a read was served, so a degraded or cached
// result is distinguishable from a healthy remote one.
type ReadStatus struct {
	// FromCache is true when the value came from a cache tier rather than
	// the remote store.
	FromCache bool `json:"fromCache"`
	// Degraded is true when the remote store failed or denied the read and
	// a fallback (a stale local copy or an empty result) was served.
	Degraded bool `json:"degraded"`
}
