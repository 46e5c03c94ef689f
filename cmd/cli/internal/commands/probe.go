package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/JoseArbillaga/afip/wsaa"
)

type ProbeCmd struct {
	Env      string        `help:"WSAA environment" enum:"testing,production" default:"testing" env:"AFIP_ENV"`
	CacheDir string        `help:"Base directory for the WSDL response cache" env:"AFIP_CACHE_DIR"`
	Timeout  time.Duration `help:"Network timeout" default:"15s"`
}

func (c *ProbeCmd) Run(ctx context.Context, globals *Globals) error {
	env, err := wsaa.ParseEnvironment(c.Env)
	if err != nil {
		return err
	}

	probeCache := ""
	if c.CacheDir != "" {
		probeCache = httpCacheDir(c.CacheDir)
	}

	transport := wsaa.NewTransport(wsaa.TransportOptions{
		Timeout:       c.Timeout,
		ProbeCacheDir: probeCache,
	})

	start := time.Now()
	if err := transport.Probe(ctx, env); err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}

	fmt.Printf("WSAA %s reachable, WSDL served from %s in %s\n",
		env, env.WSDLURL(), time.Since(start).Round(time.Millisecond))

	return nil
}
