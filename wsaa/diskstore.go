package wsaa

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// DiskStore persists tickets on the local filesystem so a restarted process
// can keep using a ticket obtained before the restart. Tickets are plain JSON
// at <dir>/<environment>/<service>.json with owner-only permissions; the
// token and sign values grant access to the business services until the
// ticket expires.
type DiskStore struct {
	dir string
}

// NewDiskStore creates a ticket store rooted at dir.
// If dir is empty, uses ~/.afip/tickets/
func NewDiskStore(dir string) (*DiskStore, error) {
	if dir == "" {
		base, err := DefaultCacheDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(base, "tickets")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create ticket directory: %w", err)
	}

	log.Debug().Str("dir", dir).Msg("ticket store initialized")

	return &DiskStore{dir: dir}, nil
}

// DefaultCacheDir returns the default base directory for cached state,
// ~/.afip under the user's home directory.
func DefaultCacheDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".afip"), nil
}

// Load reads the stored ticket for service in env. A missing or unreadable
// ticket is not an error; it returns nil and the caller fetches a fresh one.
func (s *DiskStore) Load(env Environment, service string) (*Ticket, error) {
	data, err := os.ReadFile(s.ticketPath(env, service))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read ticket: %w", err)
	}

	var ticket Ticket
	if err := json.Unmarshal(data, &ticket); err != nil {
		// A corrupt file only costs one refetch. Drop it.
		log.Warn().
			Str("service", service).
			Str("environment", env.String()).
			Err(err).
			Msg("discarding corrupt cached ticket")
		_ = s.Remove(env, service)
		return nil, nil
	}

	return &ticket, nil
}

// Save writes the ticket atomically with 0600 permissions.
func (s *DiskStore) Save(ticket *Ticket) error {
	data, err := json.MarshalIndent(ticket, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}

	path := s.ticketPath(ticket.Environment, ticket.Service)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create ticket directory: %w", err)
	}

	// Write to temp file first
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write ticket: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save ticket: %w", err)
	}

	log.Debug().
		Str("service", ticket.Service).
		Str("environment", ticket.Environment.String()).
		Str("path", path).
		Msg("ticket saved")

	return nil
}

// Remove deletes the stored ticket for service in env, if any.
func (s *DiskStore) Remove(env Environment, service string) error {
	err := os.Remove(s.ticketPath(env, service))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove ticket: %w", err)
	}
	return nil
}

// RemoveAll deletes every stored ticket in both environments.
func (s *DiskStore) RemoveAll() error {
	for _, env := range []Environment{Testing, Production} {
		if err := os.RemoveAll(filepath.Join(s.dir, env.String())); err != nil {
			return fmt.Errorf("failed to clear ticket directory: %w", err)
		}
	}
	return nil
}

func (s *DiskStore) ticketPath(env Environment, service string) string {
	return filepath.Join(s.dir, env.String(), service+".json")
}
