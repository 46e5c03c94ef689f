package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/JoseArbillaga/afip/wsaa"
)

type InvalidateCmd struct {
	Service  string `arg:"" optional:"" help:"Service id whose cached ticket should be evicted"`
	All      bool   `help:"Evict every cached ticket in both environments"`
	Env      string `help:"WSAA environment" enum:"testing,production" default:"testing" env:"AFIP_ENV"`
	CacheDir string `help:"Base directory for cached tickets" env:"AFIP_CACHE_DIR"`
}

// Run works directly against the on-disk ticket store, no credentials needed.
func (c *InvalidateCmd) Run(ctx context.Context, globals *Globals) error {
	store, err := wsaa.NewDiskStore(ticketCacheDir(c.CacheDir))
	if err != nil {
		return err
	}

	if c.All {
		if err := store.RemoveAll(); err != nil {
			return err
		}
		fmt.Println("Evicted all cached tickets")
		return nil
	}

	if c.Service == "" {
		return errors.New("a service id or --all is required")
	}

	env, err := wsaa.ParseEnvironment(c.Env)
	if err != nil {
		return err
	}

	if err := store.Remove(env, c.Service); err != nil {
		return err
	}

	fmt.Printf("Evicted cached %s ticket for %s\n", env, c.Service)
	return nil
}
