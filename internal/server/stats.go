package server

import "sync/atomic"

// Stats holds the server's running counters, instance-owned rather
// than global so multiple servers can coexist in a test process.
type Stats struct {
	ConnectionsAccepted atomic.Int64
	CommandsProcessed   atomic.Int64
	BytesPropagated     atomic.Int64
	WaitCalls           atomic.Int64
	LZFStringsDecoded   atomic.Int64
}

// Snapshot is a point-in-time copy of Stats, safe to read without
// racing the live counters.
type Snapshot struct {
	ConnectionsAccepted int64
	CommandsProcessed   int64
	BytesPropagated     int64
	WaitCalls           int64
	LZFStringsDecoded   int64
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		ConnectionsAccepted: s.ConnectionsAccepted.Load(),
		CommandsProcessed:   s.CommandsProcessed.Load(),
		BytesPropagated:     s.BytesPropagated.Load(),
		WaitCalls:           s.WaitCalls.Load(),
		LZFStringsDecoded:   s.LZFStringsDecoded.Load(),
	}
}
