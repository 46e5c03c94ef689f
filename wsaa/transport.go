package wsaa

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
	"github.com/rs/zerolog/log"
)

const (
	soapContentType = "application/soap+xml; charset=utf-8"
	userAgent       = "afip-wsaa-client/1.0"

	// WSAA replies are a few KB; anything bigger is not a reply at all.
	maxResponseBytes = 1 << 20
)

const soapRequestTemplate = xml.Header + `<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope" xmlns:wsaa="http://wsaa.view.sua.dvadac.desein.afip.gov">
  <soap:Header/>
  <soap:Body>
    <wsaa:loginCms>
      <wsaa:in0>%s</wsaa:in0>
    </wsaa:loginCms>
  </soap:Body>
</soap:Envelope>`

// TransportOptions configure a Transport. Zero values take the package
// defaults.
type TransportOptions struct {
	// Timeout bounds each network attempt.
	Timeout time.Duration

	// MaxTries is the total number of attempts for transient failures.
	MaxTries uint

	// ProbeCacheDir, when set, backs the WSDL probe's HTTP cache with disk
	// so repeated probes do not refetch a static document. Memory-only
	// otherwise.
	ProbeCacheDir string

	// HTTPClient overrides the client used for LoginCms calls, mainly for
	// tests. Its own timeout settings apply as-is.
	HTTPClient *http.Client
}

// Transport submits signed login requests to the WSAA gateway over SOAP 1.2
// and parses its replies.
//
// Retry policy: network failures and 5xx replies without a parseable SOAP
// fault are retried with exponential backoff up to MaxTries. A SOAP fault is
// a decision by the remote and is terminal; WSAA grants at most one ticket
// per service per request window, so retrying a fault only burns quota.
type Transport struct {
	client   *http.Client
	probe    *http.Client
	maxTries uint

	// test hooks
	loginURL      string
	wsdlURL       string
	retryInterval time.Duration
}

// NewTransport builds a Transport with the given options.
func NewTransport(opts TransportOptions) *Transport {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultRequestTimeout
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = DefaultMaxTries
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &Transport{
		client:   client,
		probe:    newProbeClient(opts.ProbeCacheDir, opts.Timeout),
		maxTries: opts.MaxTries,
	}
}

// newProbeClient builds the HTTP client used for WSDL probes. The WSDL is a
// static document, so responses go through an httpcache transport, disk
// backed when cacheDir is set.
func newProbeClient(cacheDir string, timeout time.Duration) *http.Client {
	var cache httpcache.Cache = httpcache.NewMemoryCache()
	if cacheDir != "" {
		cache = diskcache.New(cacheDir)
	}
	return &http.Client{
		Transport: httpcache.NewTransport(cache),
		Timeout:   timeout,
	}
}

// Submit posts the base64 CMS envelope to env's LoginCms endpoint and returns
// the decoded loginTicketResponse document, ready for ParseLoginResponse.
func (t *Transport) Submit(ctx context.Context, env Environment, envelope string) ([]byte, error) {
	if !env.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEnvironment, env)
	}

	url := t.loginURL
	if url == "" {
		url = env.LoginURL()
	}

	// Correlates the log lines of one acquisition across its attempts.
	callID := uuid.NewString()

	attempt := 0
	operation := func() ([]byte, error) {
		attempt++
		raw, err := t.post(ctx, url, envelope)
		if err != nil {
			log.Warn().
				Str("call_id", callID).
				Int("attempt", attempt).
				Str("url", url).
				Err(err).
				Msg("wsaa call failed")
			return nil, err
		}
		return raw, nil
	}

	expo := backoff.NewExponentialBackOff()
	if t.retryInterval > 0 {
		expo.InitialInterval = t.retryInterval
	}

	raw, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(t.maxTries),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Unwrap()
		}
		return nil, err
	}

	log.Debug().
		Str("call_id", callID).
		Int("attempts", attempt).
		Int("response_bytes", len(raw)).
		Msg("wsaa call succeeded")

	return raw, nil
}

// post performs one LoginCms attempt. Terminal outcomes (faults, malformed
// replies) come back wrapped in backoff.Permanent so the retry loop stops.
func (t *Transport) post(ctx context.Context, url, envelope string) ([]byte, error) {
	body := fmt.Sprintf(soapRequestTemplate, envelope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create wsaa request: %w", err))
	}
	req.Header.Set("Content-Type", soapContentType)
	req.Header.Set("SOAPAction", "")
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	// WSAA reports faults as HTTP 500 with a SOAP fault body. The fault
	// check runs before the status check so a fault is never mistaken for an
	// outage and retried.
	var reply soapEnvelope
	parseErr := xml.Unmarshal(data, &reply)

	if parseErr == nil && reply.Body.Fault != nil {
		return nil, backoff.Permanent(reply.Body.Fault.remoteFault())
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status %s", ErrNetwork, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(fmt.Errorf("%w: unexpected status %s", ErrNetwork, resp.Status))
	case parseErr != nil:
		return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrMalformedResponse, parseErr))
	}

	ret := strings.TrimSpace(reply.Body.LoginReturn)
	if ret == "" {
		return nil, backoff.Permanent(fmt.Errorf("%w: missing loginCmsReturn", ErrMalformedResponse))
	}

	decoded, err := base64.StdEncoding.DecodeString(ret)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: loginCmsReturn is not valid base64: %v", ErrMalformedResponse, err))
	}

	return decoded, nil
}

// Probe checks connectivity with env's WSAA deployment by fetching its WSDL.
// WSAA has no health endpoint; the WSDL is the closest thing to one.
func (t *Transport) Probe(ctx context.Context, env Environment) error {
	if !env.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEnvironment, env)
	}

	url := t.wsdlURL
	if url == "" {
		url = env.WSDLURL()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.probe.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %s", ErrNetwork, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	body := strings.ToLower(string(data))
	if !strings.Contains(body, "wsdl") && !strings.Contains(body, "definitions") {
		return fmt.Errorf("%w: endpoint did not return a WSDL document", ErrMalformedResponse)
	}

	log.Debug().Str("url", url).Msg("wsaa reachable")
	return nil
}

type soapEnvelope struct {
	Body soapBody `xml:"Body"`
}

type soapBody struct {
	Fault       *soapFault `xml:"Fault"`
	LoginReturn string     `xml:"loginCmsResponse>loginCmsReturn"`
}

// soapFault accepts both the SOAP 1.2 fault shape (Code/Value, Reason/Text)
// and the SOAP 1.1 shape (faultcode, faultstring) the Axis-era gateway emits.
type soapFault struct {
	CodeValue    string `xml:"Code>Value"`
	SubcodeValue string `xml:"Code>Subcode>Value"`
	Reason       string `xml:"Reason>Text"`
	FaultCode    string `xml:"faultcode"`
	FaultString  string `xml:"faultstring"`
}

func (f *soapFault) remoteFault() *RemoteFault {
	code := f.SubcodeValue
	if code == "" {
		code = f.FaultCode
	}
	if code == "" {
		code = f.CodeValue
	}
	// Axis prefixes codes with a namespace alias (ns1:cms.bad).
	if i := strings.LastIndex(code, ":"); i >= 0 {
		code = code[i+1:]
	}

	message := f.Reason
	if message == "" {
		message = f.FaultString
	}

	return &RemoteFault{Code: code, Message: message}
}

// loginTicketResponse mirrors the XML document carried inside loginCmsReturn.
type loginTicketResponse struct {
	Header struct {
		GenerationTime string `xml:"generationTime"`
		ExpirationTime string `xml:"expirationTime"`
	} `xml:"header"`
	Credentials struct {
		Token string `xml:"token"`
		Sign  string `xml:"sign"`
	} `xml:"credentials"`
}

// ParseLoginResponse extracts the access ticket from a decoded
// loginTicketResponse document, as returned by Submit.
func ParseLoginResponse(data []byte, service string, env Environment) (*Ticket, error) {
	var doc loginTicketResponse
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if doc.Credentials.Token == "" || doc.Credentials.Sign == "" {
		return nil, fmt.Errorf("%w: missing token or sign", ErrMalformedResponse)
	}

	generation, err := time.Parse(time.RFC3339, strings.TrimSpace(doc.Header.GenerationTime))
	if err != nil {
		return nil, fmt.Errorf("%w: bad generationTime: %v", ErrMalformedResponse, err)
	}

	expiration, err := time.Parse(time.RFC3339, strings.TrimSpace(doc.Header.ExpirationTime))
	if err != nil {
		return nil, fmt.Errorf("%w: bad expirationTime: %v", ErrMalformedResponse, err)
	}

	if !expiration.After(time.Now()) {
		return nil, fmt.Errorf("%w: ticket already expired at %s", ErrMalformedResponse, doc.Header.ExpirationTime)
	}

	return &Ticket{
		Token:          doc.Credentials.Token,
		Sign:           doc.Credentials.Sign,
		Service:        service,
		Environment:    env,
		GenerationTime: generation,
		ExpirationTime: expiration,
	}, nil
}
