// Package noise corrupts target token sequences for denoising training.
//
// The corrupted copy is fed back to the model as its autoregressive input
// while the untouched original stays behind as the training labels.
package noise

import (
	"fmt"
	"math"
	"math/rand"
)

type Mode int

const (
	// ModeSentinel replaces selected tokens with a single configured id.
	ModeSentinel Mode = iota
	// ModeRandom replaces selected tokens with ids drawn from [1, VocabSize).
	ModeRandom
)

func (m Mode) String() string {
	if m == ModeRandom {
		return "random"
	}
	return "sentinel"
}

type Config struct {
	Prob       float64
	Mode       Mode
	SentinelID int
	VocabSize  int
}

func (c Config) Validate() error {
	if math.IsNaN(c.Prob) || c.Prob < 0 || c.Prob > 1 {
		return fmt.Errorf("invalid noise_prob: %v (must be in [0, 1])", c.Prob)
	}
	switch c.Mode {
	case ModeRandom:
		if c.VocabSize < 2 {
			return fmt.Errorf("invalid vocab_size: %d (must be >= 2 for random noise)", c.VocabSize)
		}
	case ModeSentinel:
		if c.SentinelID < 0 {
			return fmt.Errorf("invalid sentinel id: %d (must be non-negative)", c.SentinelID)
		}
	default:
		return fmt.Errorf("invalid noise mode: %d", int(c.Mode))
	}
	return nil
}

// Injector holds no random state of its own; every call receives the source
// to draw from, so one Injector can serve many goroutines.
type Injector struct {
	cfg Config
}

func NewInjector(cfg Config) (*Injector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Injector{cfg: cfg}, nil
}

func (in *Injector) Config() Config {
	return in.cfg
}

// Budget is the number of positions corrupted out of n.
func (in *Injector) Budget(n int) int {
	return int(math.Floor(in.cfg.Prob * float64(n)))
}

// Corrupt picks Budget(len(ids)) distinct positions uniformly at random and
// replaces them. With prob 0 the input slice is returned as both values and
// rng may be nil.
func (in *Injector) Corrupt(rng *rand.Rand, ids []int) (corrupted, labels []int) {
	budget := in.Budget(len(ids))
	if budget == 0 {
		return ids, ids
	}

	corrupted = append([]int(nil), ids...)
	for _, pos := range rng.Perm(len(ids))[:budget] {
		corrupted[pos] = in.replacement(rng)
	}
	return corrupted, ids
}

// CorruptBatch applies one budget to the flattened batch, so individual
// sequences may receive more or fewer corruptions than p*len.
func (in *Injector) CorruptBatch(rng *rand.Rand, batch [][]int) (corrupted, labels [][]int) {
	total := 0
	for _, ids := range batch {
		total += len(ids)
	}
	budget := in.Budget(total)
	if budget == 0 {
		return batch, batch
	}

	corrupted = make([][]int, len(batch))
	for i, ids := range batch {
		corrupted[i] = append([]int(nil), ids...)
	}

	for _, flat := range rng.Perm(total)[:budget] {
		row := 0
		for flat >= len(corrupted[row]) {
			flat -= len(corrupted[row])
			row++
		}
		corrupted[row][flat] = in.replacement(rng)
	}
	return corrupted, batch
}

func (in *Injector) replacement(rng *rand.Rand) int {
	if in.cfg.Mode == ModeRandom {
		return 1 + rng.Intn(in.cfg.VocabSize-1)
	}
	return in.cfg.SentinelID
}
