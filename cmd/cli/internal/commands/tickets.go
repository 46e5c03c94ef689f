package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/JoseArbillaga/afip/wsaa"
)

type TicketsCmd struct {
	ClientFlags
	JSON bool `help:"Print the results as JSON"`
}

type ticketResult struct {
	Service string       `json:"service"`
	Ticket  *wsaa.Ticket `json:"ticket,omitempty"`
	Error   string       `json:"error,omitempty"`
}

func (c *TicketsCmd) Run(ctx context.Context, globals *Globals) error {
	client, env, err := c.buildClient()
	if err != nil {
		return err
	}

	results := client.GetAllTickets(ctx, nil, env)
	services := client.EnabledServices()

	if c.JSON {
		out := make([]ticketResult, 0, len(services))
		for _, service := range services {
			r := results[service]
			entry := ticketResult{Service: service, Ticket: r.Ticket}
			if r.Err != nil {
				entry.Error = r.Err.Error()
			}
			out = append(out, entry)
		}
		return printJSON(out)
	}

	fmt.Printf("Tickets for environment '%s':\n", env)
	fmt.Printf("%-20s %-8s %-26s %-40s\n", "Service", "Status", "Expires", "Detail")
	fmt.Println("─────────────────────────────────────────────────────────────────────────────────────────")

	failed := 0
	for _, service := range services {
		r := results[service]
		if r.Err != nil {
			failed++
			fmt.Printf("%-20s %-8s %-26s %-40s\n", service, "ERROR", "-", truncate(r.Err.Error(), 40))
			continue
		}
		fmt.Printf("%-20s %-8s %-26s %-40s\n",
			service,
			"OK",
			r.Ticket.ExpirationTime.Format(time.RFC3339),
			"token "+truncate(r.Ticket.Token, 30))
	}

	fmt.Printf("\nTotal services: %d, failed: %d\n", len(services), failed)

	if failed == len(services) && failed > 0 {
		return fmt.Errorf("all %d services failed", failed)
	}

	return nil
}
