package wsaa

import (
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBuilder() *Builder {
	return &Builder{
		ClockSkew: time.Minute,
		Window:    10 * time.Minute,
		Source:    "SERIALNUMBER=CUIT 20111111112,CN=empresa-test",
	}
}

func TestBuilder_Build(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	t.Run("timestamps derive from now", func(t *testing.T) {
		req, err := testBuilder().Build("wslsp", Testing, now)
		require.NoError(t, err)

		assert.True(t, req.GenerationTime.Equal(now.Add(-time.Minute)))
		assert.True(t, req.ExpirationTime.Equal(req.GenerationTime.Add(10*time.Minute)))
	})

	t.Run("document shape", func(t *testing.T) {
		req, err := testBuilder().Build("wslsp", Testing, now)
		require.NoError(t, err)

		raw := string(req.Bytes())
		assert.True(t, strings.HasPrefix(raw, xml.Header))

		var doc traDocument
		require.NoError(t, xml.Unmarshal(req.Bytes(), &doc))

		assert.Equal(t, "1.0", doc.Version)
		assert.Equal(t, "wslsp", doc.Service)
		assert.Equal(t, "SERIALNUMBER=CUIT 20111111112,CN=empresa-test", doc.Header.Source)
		assert.Equal(t, Testing.DestinationDN(), doc.Header.Destination)
		assert.Equal(t, req.UniqueID, doc.Header.UniqueID)
	})

	t.Run("timestamps are fixed-offset argentine time without sub-seconds", func(t *testing.T) {
		req, err := testBuilder().Build("wslsp", Testing, now.Add(123*time.Millisecond))
		require.NoError(t, err)

		var doc traDocument
		require.NoError(t, xml.Unmarshal(req.Bytes(), &doc))

		assert.Equal(t, "2026-03-15T08:59:00-03:00", doc.Header.GenerationTime)
		assert.Equal(t, "2026-03-15T09:09:00-03:00", doc.Header.ExpirationTime)
	})

	t.Run("production destination", func(t *testing.T) {
		req, err := testBuilder().Build("wslsp", Production, now)
		require.NoError(t, err)

		var doc traDocument
		require.NoError(t, xml.Unmarshal(req.Bytes(), &doc))
		assert.Equal(t, Production.DestinationDN(), doc.Header.Destination)
	})

	t.Run("source omitted when unknown", func(t *testing.T) {
		builder := &Builder{ClockSkew: time.Minute, Window: 10 * time.Minute}
		req, err := builder.Build("wslsp", Testing, now)
		require.NoError(t, err)

		assert.NotContains(t, string(req.Bytes()), "<source>")
	})

	t.Run("unique ids strictly increase", func(t *testing.T) {
		builder := testBuilder()
		first, err := builder.Build("wslsp", Testing, now)
		require.NoError(t, err)
		second, err := builder.Build("wslsp", Testing, now)
		require.NoError(t, err)

		assert.Greater(t, second.UniqueID, first.UniqueID)
	})

	t.Run("bytes are captured once", func(t *testing.T) {
		req, err := testBuilder().Build("wslsp", Testing, now)
		require.NoError(t, err)

		assert.Equal(t, req.Bytes(), req.Bytes())
	})

	t.Run("invalid service id", func(t *testing.T) {
		_, err := testBuilder().Build("9bad", Testing, now)
		assert.ErrorIs(t, err, ErrInvalidService)
	})

	t.Run("unknown environment", func(t *testing.T) {
		_, err := testBuilder().Build("wslsp", Environment("staging"), now)
		assert.ErrorIs(t, err, ErrUnknownEnvironment)
	})

	t.Run("zero window", func(t *testing.T) {
		builder := &Builder{ClockSkew: time.Minute}
		_, err := builder.Build("wslsp", Testing, now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "request window")
	})
}

func TestFormatTRATime(t *testing.T) {
	t.Run("converts from UTC", func(t *testing.T) {
		moment := time.Date(2026, 3, 15, 2, 30, 45, 0, time.UTC)
		assert.Equal(t, "2026-03-14T23:30:45-03:00", formatTRATime(moment))
	})

	t.Run("drops sub-second precision", func(t *testing.T) {
		moment := time.Date(2026, 3, 15, 12, 0, 0, 999_000_000, time.UTC)
		assert.Equal(t, "2026-03-15T09:00:00-03:00", formatTRATime(moment))
	})
}
