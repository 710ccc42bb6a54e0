// Package state holds the per-vehicle hot state of the detector: a
// sharded map from vehicle ID to a bounded frame history. Partition
// affinity means one worker owns a vehicle at any time, so shard-level
// mutexes are enough; no shard lock is ever held while rule or feature
// code runs.
package state

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/fleetgrid/backend/internal/ringbuf"
	"github.com/fleetgrid/backend/internal/telemetry"
)

// DefaultRingSize covers roughly three seconds of history at 10 Hz.
const DefaultRingSize = 30

const shardCount = 16 // power of two, keyed by FNV hash of vehicle_id

// VehicleState is the hot state for one vehicle.
type VehicleState struct {
	VehicleID string
	frames    *ringbuf.Ring[*telemetry.Frame]
	lastSeen  time.Time
}

// Snapshot returns the vehicle's frame history oldest to newest. The
// slice is a copy and safe to iterate without locking.
func (v *VehicleState) Snapshot() []*telemetry.Frame {
	return v.frames.Snapshot()
}

// Len returns the number of buffered frames.
func (v *VehicleState) Len() int {
	return v.frames.Len()
}

// LastSeen reports when the vehicle last received a frame.
func (v *VehicleState) LastSeen() time.Time {
	return v.lastSeen
}

type shard struct {
	mu       sync.Mutex
	vehicles map[string]*VehicleState
}

// Store maps vehicle IDs to their state. Safe for concurrent use.
type Store struct {
	shards   [shardCount]*shard
	ringSize int
}

// NewStore creates a store whose per-vehicle history holds ringSize
// frames. A non-positive ringSize falls back to DefaultRingSize.
func NewStore(ringSize int) *Store {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	s := &Store{ringSize: ringSize}
	for i := range s.shards {
		s.shards[i] = &shard{vehicles: make(map[string]*VehicleState)}
	}
	return s
}

func (s *Store) shardFor(vehicleID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(vehicleID))
	return s.shards[h.Sum32()&(shardCount-1)]
}

// GetOrCreate returns the state for vehicleID, creating it on first use.
func (s *Store) GetOrCreate(vehicleID string) *VehicleState {
	sh := s.shardFor(vehicleID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return s.getOrCreateLocked(sh, vehicleID)
}

func (s *Store) getOrCreateLocked(sh *shard, vehicleID string) *VehicleState {
	v, ok := sh.vehicles[vehicleID]
	if !ok {
		v = &VehicleState{
			VehicleID: vehicleID,
			frames:    ringbuf.New[*telemetry.Frame](s.ringSize),
		}
		sh.vehicles[vehicleID] = v
	}
	return v
}

// Ingest appends the frame to its vehicle's history and returns a
// snapshot of the history including the new frame. Append and snapshot
// happen under one shard lock, so a concurrent ingest for a different
// vehicle on the same shard cannot interleave.
func (s *Store) Ingest(frame *telemetry.Frame) []*telemetry.Frame {
	sh := s.shardFor(frame.VehicleID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	v := s.getOrCreateLocked(sh, frame.VehicleID)
	v.frames.Push(frame)
	v.lastSeen = time.Now()
	return v.frames.Snapshot()
}

// Count returns the number of tracked vehicles.
func (s *Store) Count() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.vehicles)
		sh.mu.Unlock()
	}
	return n
}

// Range calls fn for every tracked vehicle. fn runs without any shard
// lock held; it receives the live state pointer, so it must only call
// the state's read methods.
func (s *Store) Range(fn func(*VehicleState)) {
	for _, sh := range s.shards {
		sh.mu.Lock()
		batch := make([]*VehicleState, 0, len(sh.vehicles))
		for _, v := range sh.vehicles {
			batch = append(batch, v)
		}
		sh.mu.Unlock()

		for _, v := range batch {
			fn(v)
		}
	}
}

// Expire removes vehicles whose last frame is older than ttl and
// returns how many were evicted. A non-positive ttl is a no-op: the
// default policy retains vehicles forever.
func (s *Store) Expire(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-ttl)
	evicted := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, v := range sh.vehicles {
			if v.lastSeen.Before(cutoff) {
				delete(sh.vehicles, id)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	return evicted
}
