package wsaa

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTicket_UsableAt(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	margin := 10 * time.Minute

	t.Run("well before the margin", func(t *testing.T) {
		ticket := &Ticket{ExpirationTime: now.Add(12 * time.Hour)}
		assert.True(t, ticket.UsableAt(now, margin))
	})

	t.Run("just outside the margin", func(t *testing.T) {
		ticket := &Ticket{ExpirationTime: now.Add(margin + time.Second)}
		assert.True(t, ticket.UsableAt(now, margin))
	})

	t.Run("inside the margin counts as expired", func(t *testing.T) {
		ticket := &Ticket{ExpirationTime: now.Add(margin - time.Second)}
		assert.False(t, ticket.UsableAt(now, margin))
	})

	t.Run("exactly at the margin counts as expired", func(t *testing.T) {
		ticket := &Ticket{ExpirationTime: now.Add(margin)}
		assert.False(t, ticket.UsableAt(now, margin))
	})

	t.Run("already expired", func(t *testing.T) {
		ticket := &Ticket{ExpirationTime: now.Add(-time.Hour)}
		assert.False(t, ticket.UsableAt(now, margin))
	})

	t.Run("nil ticket", func(t *testing.T) {
		var ticket *Ticket
		assert.False(t, ticket.UsableAt(now, margin))
	})
}

func TestTicket_ExpiresIn(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	ticket := &Ticket{ExpirationTime: now.Add(2 * time.Hour)}
	assert.Equal(t, 2*time.Hour, ticket.ExpiresIn(now))

	expired := &Ticket{ExpirationTime: now.Add(-time.Hour)}
	assert.Equal(t, -time.Hour, expired.ExpiresIn(now))
}
