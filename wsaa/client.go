// Package wsaa acquires access tickets from AFIP's WSAA authentication
// service on behalf of its business web services.
//
// A ticket request is an XML document (the TRA) signed into a CMS envelope
// with the taxpayer's certificate and submitted over SOAP. WSAA answers with
// a token and sign pair valid for several hours, and it refuses to issue a
// second ticket for the same service while one is outstanding. The client
// therefore caches tickets per service and environment, collapses concurrent
// requests into one remote call, and never retries a remote fault.
package wsaa

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/JoseArbillaga/afip/credentials"
)

// Defaults applied by NewClient when the corresponding option is zero.
const (
	DefaultRequestTimeout = 15 * time.Second
	DefaultMaxTries       = 3
	DefaultClockSkew      = time.Minute
	DefaultRequestWindow  = 10 * time.Minute
	DefaultSafetyMargin   = 10 * time.Minute
)

// ErrNoCredentials is returned by NewClient when no credentials source is
// configured.
var ErrNoCredentials = errors.New("credentials source is required")

// Options configure a Client. Credentials is required; everything else has a
// working default.
type Options struct {
	// Credentials supplies the signing certificate and private key. It is
	// invoked at construction and on every Reload.
	Credentials credentials.Source

	// Services restricts which service ids this client will fetch tickets
	// for. Empty enables the full catalog.
	Services []string

	// RequestTimeout bounds each network attempt.
	RequestTimeout time.Duration

	// MaxTries is the attempt bound for transient transport failures.
	MaxTries uint

	// ClockSkew backdates the request generation time.
	ClockSkew time.Duration

	// RequestWindow is the validity span of the signed request.
	RequestWindow time.Duration

	// SafetyMargin is how long before expiration a cached ticket stops being
	// served.
	SafetyMargin time.Duration

	// CacheDir is the base directory for persisted tickets and the probe's
	// HTTP cache. Empty uses ~/.afip.
	CacheDir string

	// DisableDiskCache keeps all state in memory.
	DisableDiskCache bool

	// HTTPClient overrides the transport's HTTP client, mainly for tests.
	HTTPClient *http.Client
}

// Client coordinates certificate handling, request building, CMS signing,
// transport, and the ticket cache. Safe for concurrent use.
type Client struct {
	mu      sync.RWMutex
	creds   *credentials.Store
	builder *Builder

	source    credentials.Source
	transport *Transport
	cache     *Cache
	enabled   map[string]bool
}

// Result is one service's outcome in a GetAllTickets batch.
type Result struct {
	Ticket *Ticket
	Err    error
}

// NewClient loads and validates the credentials and builds a ready client.
// Construction fails if the certificate is outside its validity window or
// does not match the private key; a client that cannot sign must not exist.
func NewClient(opts Options) (*Client, error) {
	if opts.Credentials == nil {
		return nil, ErrNoCredentials
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = DefaultMaxTries
	}
	if opts.ClockSkew == 0 {
		opts.ClockSkew = DefaultClockSkew
	}
	if opts.RequestWindow == 0 {
		opts.RequestWindow = DefaultRequestWindow
	}
	if opts.SafetyMargin == 0 {
		opts.SafetyMargin = DefaultSafetyMargin
	}

	store, err := opts.Credentials()
	if err != nil {
		return nil, err
	}
	if err := store.Validate(time.Now()); err != nil {
		return nil, err
	}

	services := opts.Services
	if len(services) == 0 {
		services = ServiceIDs()
	}
	enabled := make(map[string]bool, len(services))
	for _, id := range services {
		if !ValidServiceID(id) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidService, id)
		}
		enabled[id] = true
	}

	var (
		disk     *DiskStore
		probeDir string
	)
	if !opts.DisableDiskCache {
		base := opts.CacheDir
		if base == "" {
			base, err = DefaultCacheDir()
			if err != nil {
				return nil, err
			}
		}
		disk, err = NewDiskStore(filepath.Join(base, "tickets"))
		if err != nil {
			return nil, err
		}
		probeDir = filepath.Join(base, "http")
	}

	c := &Client{
		creds: store,
		builder: &Builder{
			ClockSkew: opts.ClockSkew,
			Window:    opts.RequestWindow,
			Source:    store.SubjectDN(),
		},
		source: opts.Credentials,
		transport: NewTransport(TransportOptions{
			Timeout:       opts.RequestTimeout,
			MaxTries:      opts.MaxTries,
			ProbeCacheDir: probeDir,
			HTTPClient:    opts.HTTPClient,
		}),
		cache:   NewCache(opts.SafetyMargin, disk),
		enabled: enabled,
	}

	log.Info().
		Str("fingerprint", store.Fingerprint()).
		Int("services", len(enabled)).
		Bool("disk_cache", disk != nil).
		Msg("wsaa client ready")

	return c, nil
}

// GetTicket returns a usable access ticket for service in env, from cache
// when possible. Concurrent callers for the same service and environment
// share one remote call; a failed fetch is reported to every caller and
// nothing is cached.
func (c *Client) GetTicket(ctx context.Context, service string, env Environment) (*Ticket, error) {
	if !env.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEnvironment, env)
	}
	if !ValidServiceID(service) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidService, service)
	}
	if !c.enabled[service] {
		return nil, fmt.Errorf("%w: %q", ErrServiceNotEnabled, service)
	}

	return c.cache.GetOrFetch(ctx, env, service, func(ctx context.Context) (*Ticket, error) {
		return c.fetch(ctx, service, env)
	})
}

// GetAllTickets acquires tickets for the given services concurrently and
// reports a per-service outcome. One service failing never aborts the
// others. A nil or empty services slice means every enabled service.
func (c *Client) GetAllTickets(ctx context.Context, services []string, env Environment) map[string]Result {
	if len(services) == 0 {
		services = c.EnabledServices()
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]Result, len(services))
	)

	for _, service := range services {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket, err := c.GetTicket(ctx, service, env)
			mu.Lock()
			results[service] = Result{Ticket: ticket, Err: err}
			mu.Unlock()
		}()
	}
	wg.Wait()

	return results
}

// EnabledServices returns the service ids this client may fetch tickets for,
// sorted.
func (c *Client) EnabledServices() []string {
	ids := make([]string, 0, len(c.enabled))
	for id := range c.enabled {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Invalidate evicts the cached ticket for service in env. Call it when a
// business service rejects the ticket; the next GetTicket fetches fresh.
func (c *Client) Invalidate(service string, env Environment) error {
	if !env.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEnvironment, env)
	}
	if !ValidServiceID(service) {
		return fmt.Errorf("%w: %q", ErrInvalidService, service)
	}
	return c.cache.Invalidate(env, service)
}

// InvalidateAll evicts every cached ticket in both environments.
func (c *Client) InvalidateAll() error {
	return c.cache.InvalidateAll()
}

// Reload re-reads the credentials from their source, validates them, and
// swaps them in, then drops all cached tickets. Tickets issued under a
// previous certificate may carry a stale authorization, so the cache starts
// over. Rotation is always this explicit call; credentials never change
// behind the client's back.
func (c *Client) Reload() error {
	store, err := c.source()
	if err != nil {
		return err
	}
	if err := store.Validate(time.Now()); err != nil {
		return err
	}

	c.mu.Lock()
	c.creds = store
	c.builder = &Builder{
		ClockSkew: c.builder.ClockSkew,
		Window:    c.builder.Window,
		Source:    store.SubjectDN(),
	}
	c.mu.Unlock()

	if err := c.cache.InvalidateAll(); err != nil {
		return err
	}

	log.Info().
		Str("fingerprint", store.Fingerprint()).
		Msg("credentials reloaded")

	return nil
}

// Probe checks that env's WSAA deployment is reachable and serving its WSDL.
func (c *Client) Probe(ctx context.Context, env Environment) error {
	return c.transport.Probe(ctx, env)
}

// CertificateInfo reports the loaded certificate's details as of now.
func (c *Client) CertificateInfo() credentials.Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds.Info(time.Now())
}

// fetch performs one full acquisition: build, sign, submit, parse. It runs
// inside the cache's single flight, so at most one fetch per service and
// environment is in progress at a time.
func (c *Client) fetch(ctx context.Context, service string, env Environment) (*Ticket, error) {
	c.mu.RLock()
	creds, builder := c.creds, c.builder
	c.mu.RUnlock()

	req, err := builder.Build(service, env, time.Now())
	if err != nil {
		return nil, err
	}

	envelope, err := SignLoginRequest(req, creds.Certificate(), creds.Signer())
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("service", service).
		Str("environment", env.String()).
		Uint32("unique_id", req.UniqueID).
		Msg("requesting ticket")

	raw, err := c.transport.Submit(ctx, env, envelope)
	if err != nil {
		return nil, err
	}

	ticket, err := ParseLoginResponse(raw, service, env)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("service", service).
		Str("environment", env.String()).
		Time("expires", ticket.ExpirationTime).
		Int("token_len", len(ticket.Token)).
		Msg("ticket issued")

	return ticket, nil
}
