package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/JoseArbillaga/afip/credentials"
)

type InspectCmd struct {
	ClientFlags
	JSON bool `help:"Print the certificate details as JSON"`
}

type inspectOutput struct {
	credentials.Info
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Run loads the credentials and reports on them. Unlike ticket acquisition,
// inspection succeeds even when the certificate is expired or mismatched, so
// operators can diagnose exactly that.
func (c *InspectCmd) Run(ctx context.Context, globals *Globals) error {
	if c.Config != "" {
		if err := c.loadConfigFile(); err != nil {
			return fmt.Errorf("failed to load config file: %w", err)
		}
	}

	source, err := c.source()
	if err != nil {
		return err
	}

	store, err := source()
	if err != nil {
		return err
	}

	now := time.Now()
	info := store.Info(now)

	status := "VALID"
	reason := ""
	if err := store.Validate(now); err != nil {
		status = "INVALID"
		reason = err.Error()
	}

	if c.JSON {
		return printJSON(inspectOutput{Info: info, Status: status, Reason: reason})
	}

	fmt.Printf("Subject:      %s\n", info.Subject)
	fmt.Printf("Issuer:       %s\n", info.Issuer)
	fmt.Printf("Serial:       %s\n", info.SerialNumber)
	fmt.Printf("Valid from:   %s\n", info.NotBefore.Format(time.RFC3339))
	fmt.Printf("Valid until:  %s (%d days remaining)\n", info.NotAfter.Format(time.RFC3339), info.DaysRemaining)
	fmt.Printf("Fingerprint:  %s\n", info.Fingerprint)
	fmt.Printf("Status:       %s\n", status)
	if reason != "" {
		fmt.Printf("Reason:       %s\n", reason)
	}

	return nil
}
