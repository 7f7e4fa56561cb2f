//go:generate mockgen -source coordinator.go -destination ../internal/mocks/mock_coordinator.go -package mocks

package reading

import (
	"context"
	"math/rand/v2"
)

// Coordinator connects the reading services of all ranks taking part in a
// distributed run.
type Coordinator interface {
	// WorldSize returns the number of ranks.
	WorldSize() int

	// Rank returns the rank of this process.
	Rank() int

	// BroadcastSeed shares seed from rank 0 with every rank and returns the
	// seed all ranks agreed on.
	BroadcastSeed(ctx context.Context, seed uint64) (uint64, error)

	Close() error
}

// LocalCoordinator is the Coordinator of a single-rank run.
type LocalCoordinator struct{}

var _ Coordinator = LocalCoordinator{}

func (LocalCoordinator) WorldSize() int { return 1 }

func (LocalCoordinator) Rank() int { return 0 }

func (LocalCoordinator) BroadcastSeed(_ context.Context, seed uint64) (uint64, error) {
	return seed, nil
}

func (LocalCoordinator) Close() error { return nil }

// SeedFunc generates the seed proposed for a new epoch.
type SeedFunc func() uint64

// RandomSeed is the default SeedFunc.
func RandomSeed() uint64 {
	return rand.Uint64()
}

// FixedSeed returns a SeedFunc that always proposes seed.
func FixedSeed(seed uint64) SeedFunc {
	return func() uint64 { return seed }
}
