package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/caesar-terminal/swapdesk/internal/pricing"
)

// Conn is the part of WSClient a StreamSource consumes.
type Conn interface {
	Subscribe() <-chan []byte
	Connected() bool
}

// StreamSource turns pushed record frames into a pollable Source. A frame is
// either one record object or an array of records. Only the latest
// observation per asset is retained.
type StreamSource struct {
	name   string
	conn   Conn
	logger *slog.Logger

	mu     sync.Mutex
	latest []pricing.Observation

	notify chan struct{}
}

// NewStreamSource wraps conn. Call Run to start consuming frames.
func NewStreamSource(name string, conn Conn, logger *slog.Logger) *StreamSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamSource{
		name:   label(name, "stream"),
		conn:   conn,
		logger: logger,
		notify: make(chan struct{}, 1),
	}
}

func (s *StreamSource) Name() string { return s.name }

// Updated fires, conflated, whenever a frame changed the retained set.
func (s *StreamSource) Updated() <-chan struct{} { return s.notify }

// Fetch returns the retained observations. It fails while the connection is
// down so the poller can mark the source unhealthy; the last data is still
// kept by the poller.
func (s *StreamSource) Fetch(context.Context) ([]pricing.Observation, error) {
	if !s.conn.Connected() {
		return nil, ErrNotConnected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pricing.Observation, len(s.latest))
	copy(out, s.latest)
	return out, nil
}

// Run consumes frames until ctx ends or the connection's channel closes.
func (s *StreamSource) Run(ctx context.Context) {
	frames := s.conn.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-frames:
			if !ok {
				return
			}
			s.ingest(msg)
		}
	}
}

func (s *StreamSource) ingest(msg []byte) {
	obs, err := decodeFrame(msg)
	if err != nil {
		s.logger.Warn("feed: undecodable stream frame", "source", s.name, "error", err)
		return
	}
	if len(obs) == 0 {
		return
	}

	s.mu.Lock()
	s.latest = pricing.Latest(append(s.latest, obs...))
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func decodeFrame(msg []byte) ([]pricing.Observation, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) > 0 && msg[0] == '[' {
		return pricing.ParseRecords(bytes.NewReader(msg))
	}
	var rec pricing.Record
	if err := json.Unmarshal(msg, &rec); err != nil {
		return nil, err
	}
	if o, ok := rec.Observation(); ok {
		return []pricing.Observation{o}, nil
	}
	return nil, nil
}
