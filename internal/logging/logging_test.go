package logging

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBufferWrapsAround(t *testing.T) {
	requireT := require.New(t)

	b := NewBuffer(3)
	for i, msg := range []string{"a", "b", "c", "d"} {
		b.Add(Entry{Timestamp: time.Unix(int64(i), 0), Level: "INFO", Message: msg})
	}

	requireT.Equal(3, b.Count())
	entries := b.Query(QueryOpts{})
	requireT.Len(entries, 3)
	requireT.Equal("b", entries[0].Message)
	requireT.Equal("d", entries[2].Message)
}

func TestBufferQueryFilters(t *testing.T) {
	requireT := require.New(t)

	b := NewBuffer(10)
	b.Add(Entry{Timestamp: time.Unix(1, 0), Level: "DEBUG", Message: "one"})
	b.Add(Entry{Timestamp: time.Unix(2, 0), Level: "WARN", Message: "two"})
	b.Add(Entry{Timestamp: time.Unix(3, 0), Level: "ERROR", Message: "three"})
	b.Add(Entry{Timestamp: time.Unix(4, 0), Level: "INFO", Message: "four"})

	requireT.Len(b.Query(QueryOpts{Level: "WARN"}), 2)

	since := time.Unix(2, 0)
	until := time.Unix(3, 0)
	requireT.Len(b.Query(QueryOpts{Since: &since, Until: &until}), 2)

	last := b.Query(QueryOpts{Limit: 1})
	requireT.Len(last, 1)
	requireT.Equal("four", last[0].Message)
}

func TestLoggerTeesIntoBuffer(t *testing.T) {
	requireT := require.New(t)

	var out bytes.Buffer
	buffer := NewBuffer(10)
	log, err := New(Config{Level: "info", Format: "json"}, &out, buffer)
	requireT.NoError(err)

	log.With(zap.String("session", "s1")).Info("Peer link connected", zap.Int("attempt", 2))
	log.Debug("hidden")

	entries := buffer.Query(QueryOpts{})
	requireT.Len(entries, 1)
	requireT.Equal("INFO", entries[0].Level)
	requireT.Equal("Peer link connected", entries[0].Message)
	requireT.Equal("s1", entries[0].Fields["session"])
	requireT.EqualValues(2, entries[0].Fields["attempt"])
	requireT.Contains(out.String(), `"session":"s1"`)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Level: "loud"}, &bytes.Buffer{}, nil)
	require.Error(t, err)

	_, err = New(Config{Level: "info", Format: "xml"}, &bytes.Buffer{}, nil)
	require.Error(t, err)
}
