package commands

import (
	"context"
	"fmt"
	"slices"
	"time"
)

type TicketCmd struct {
	ClientFlags
	Service string `arg:"" help:"Service id to authenticate against, e.g. wslsp"`
	Force   bool   `help:"Discard any cached ticket before requesting"`
	JSON    bool   `help:"Print the full ticket as JSON"`
}

func (c *TicketCmd) Run(ctx context.Context, globals *Globals) error {
	// Asking for a service by name enables it for this invocation.
	if !slices.Contains(c.Services, c.Service) {
		c.Services = append(c.Services, c.Service)
	}

	client, env, err := c.buildClient()
	if err != nil {
		return err
	}

	if c.Force {
		if err := client.Invalidate(c.Service, env); err != nil {
			return err
		}
	}

	ticket, err := client.GetTicket(ctx, c.Service, env)
	if err != nil {
		return fmt.Errorf("failed to get ticket: %w", err)
	}

	if c.JSON {
		return printJSON(ticket)
	}

	fmt.Printf("Service:  %s (%s)\n", ticket.Service, ticket.Environment)
	fmt.Printf("Issued:   %s\n", ticket.GenerationTime.Format(time.RFC3339))
	fmt.Printf("Expires:  %s (in %s)\n", ticket.ExpirationTime.Format(time.RFC3339),
		ticket.ExpiresIn(time.Now()).Round(time.Second))
	fmt.Printf("Token:    %s\n", truncate(ticket.Token, 60))
	fmt.Printf("Sign:     %s\n", truncate(ticket.Sign, 60))
	fmt.Println("\nUse --json to print the full token and sign values.")

	return nil
}
