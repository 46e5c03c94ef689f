package wsaa

import (
	"encoding/xml"
	"fmt"
	"sync/atomic"
	"time"
)

// Builder constructs login ticket requests (TRAs, in AFIP's vocabulary).
//
// The generation time is backdated by ClockSkew so modest drift between this
// host and AFIP's clock does not get the request rejected as "from the
// future". The expiration is Window after the generation time; it bounds the
// validity of the request itself, not of the ticket it yields.
type Builder struct {
	ClockSkew time.Duration
	Window    time.Duration

	// Source is the subject DN of the signing certificate, included as the
	// optional source header when set.
	Source string
}

// LoginTicketRequest is one acquisition attempt's request document, with its
// serialized form captured at build time so the signer covers exactly these
// bytes.
type LoginTicketRequest struct {
	Service        string
	UniqueID       uint32
	GenerationTime time.Time
	ExpirationTime time.Time

	raw []byte
}

// Bytes returns the serialized document exactly as it must be signed.
func (r *LoginTicketRequest) Bytes() []byte {
	return r.raw
}

type traDocument struct {
	XMLName xml.Name  `xml:"loginTicketRequest"`
	Version string    `xml:"version,attr"`
	Header  traHeader `xml:"header"`
	Service string    `xml:"service"`
}

type traHeader struct {
	Source         string `xml:"source,omitempty"`
	Destination    string `xml:"destination"`
	UniqueID       uint32 `xml:"uniqueId"`
	GenerationTime string `xml:"generationTime"`
	ExpirationTime string `xml:"expirationTime"`
}

// AFIP timestamps are Argentine local time with an explicit -03:00 offset and
// no sub-second component.
var argentina = time.FixedZone("-03:00", -3*60*60)

const traTimeLayout = "2006-01-02T15:04:05-07:00"

func formatTRATime(t time.Time) string {
	return t.In(argentina).Format(traTimeLayout)
}

// requestID yields strictly increasing uniqueId values. Seeded from the clock
// so ids stay unique across process restarts within AFIP's replay horizon.
var requestID atomic.Uint32

func init() {
	// #nosec G115 - wraparound is intended, the id only needs 32 bits
	requestID.Store(uint32(time.Now().Unix()))
}

func nextRequestID() uint32 {
	return requestID.Add(1)
}

// Build produces the request document for service against env's WSAA,
// serialized once so repeated Bytes calls return identical content.
func (b *Builder) Build(service string, env Environment, now time.Time) (*LoginTicketRequest, error) {
	if !ValidServiceID(service) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidService, service)
	}
	if !env.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEnvironment, env)
	}
	if b.Window <= 0 {
		return nil, fmt.Errorf("request window must be positive, got %s", b.Window)
	}

	generation := now.Add(-b.ClockSkew)
	expiration := generation.Add(b.Window)

	req := &LoginTicketRequest{
		Service:        service,
		UniqueID:       nextRequestID(),
		GenerationTime: generation,
		ExpirationTime: expiration,
	}

	doc := traDocument{
		Version: "1.0",
		Header: traHeader{
			Source:         b.Source,
			Destination:    env.DestinationDN(),
			UniqueID:       req.UniqueID,
			GenerationTime: formatTRATime(generation),
			ExpirationTime: formatTRATime(expiration),
		},
		Service: service,
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize login ticket request: %w", err)
	}

	req.raw = append([]byte(xml.Header), body...)
	return req, nil
}
