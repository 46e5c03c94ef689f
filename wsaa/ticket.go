package wsaa

import "time"

// Ticket is the access credential issued by WSAA. Token and Sign are opaque
// to this module; consumers attach them as-is to the business web-service
// calls they authorize.
type Ticket struct {
	Token          string      `json:"token"`
	Sign           string      `json:"sign"`
	Service        string      `json:"service"`
	Environment    Environment `json:"environment"`
	GenerationTime time.Time   `json:"generation_time"`
	ExpirationTime time.Time   `json:"expiration_time"`
}

// UsableAt reports whether the ticket can still be presented at now. A ticket
// within margin of its expiration counts as expired already, so callers
// refresh before the remote starts rejecting it mid-operation.
func (t *Ticket) UsableAt(now time.Time, margin time.Duration) bool {
	return t != nil && now.Before(t.ExpirationTime.Add(-margin))
}

// ExpiresIn returns the time remaining until expiration, negative once past.
func (t *Ticket) ExpiresIn(now time.Time) time.Duration {
	return t.ExpirationTime.Sub(now)
}
