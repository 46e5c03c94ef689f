package wsaa

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	// ErrUnknownEnvironment is returned when an environment value is neither
	// Testing nor Production.
	ErrUnknownEnvironment = errors.New("unknown environment")

	// ErrInvalidService is returned when a service id does not match the
	// pattern the TRA schema accepts.
	ErrInvalidService = errors.New("invalid service id")

	// ErrServiceNotEnabled is returned when a service id is valid but not in
	// the client's enabled set.
	ErrServiceNotEnabled = errors.New("service not enabled")

	// ErrSigning is returned when the CMS envelope cannot be produced.
	ErrSigning = errors.New("failed to sign login ticket request")

	// ErrNetwork is returned when the gateway cannot be reached, after the
	// transient-failure retries are exhausted.
	ErrNetwork = errors.New("wsaa request failed")

	// ErrMalformedResponse is returned when the gateway reply does not have
	// the expected shape. Never retried.
	ErrMalformedResponse = errors.New("malformed wsaa response")
)

// RemoteFault is a SOAP fault reported by the WSAA gateway. Faults are
// decisions by the remote, not outages: the gateway grants at most one ticket
// per service per request window, so a fault is never retried automatically.
// Inspect with errors.As.
type RemoteFault struct {
	// Code is the AFIP fault code with any namespace prefix stripped,
	// e.g. "coe.alreadyAuthenticated" or "cms.sign.invalid".
	Code string

	// Message is the human-readable fault description.
	Message string
}

func (f *RemoteFault) Error() string {
	return fmt.Sprintf("wsaa fault %s: %s", f.Code, f.Message)
}

// Permanent reports whether AFIP classifies the fault as one that requires
// manual correction (renewing the certificate, authorizing the service)
// rather than one that may clear on its own. Callers that choose to retry a
// non-permanent fault must wait out the request window first.
func (f *RemoteFault) Permanent() bool {
	return permanentFaults[f.Code]
}

// Fault codes AFIP documents as requiring manual correction. The remaining
// documented codes (cms.bad, cms.bad.base64, cms.cert.notFound,
// cms.sign.invalid, xml.bad, xml.generationTime.invalid,
// xml.expirationTime.expired, xml.expirationTime.invalid, wsn.unavailable,
// wsaa.unavailable, wsaa.internalError) are transient at the remote but still
// terminal for a single acquisition attempt.
var permanentFaults = map[string]bool{
	"coe.notAuthorized":        true,
	"coe.alreadyAuthenticated": true,
	"cms.cert.expired":         true,
	"cms.cert.invalid":         true,
	"cms.cert.untrusted":       true,
	"xml.source.invalid":       true,
	"xml.destination.invalid":  true,
	"xml.version.notSupported": true,
	"wsn.notFound":             true,
}
