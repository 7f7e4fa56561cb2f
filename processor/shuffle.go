package processor

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/MasterOfBinary/goloader/pipe"
)

// DefaultShuffleBufferSize is the buffer size used by Shuffle when none is
// given.
const DefaultShuffleBufferSize = 10000

// Shuffler is a buffered shuffle. It holds up to BufferSize values and emits
// a random one each time the buffer is full. The generator is seeded from
// the seed of the last reset, so every worker built from the same graph
// produces the same order.
type Shuffler struct {
	BufferSize int
}

// Shuffle returns a shuffling node. bufferSize <= 0 uses
// DefaultShuffleBufferSize.
func Shuffle(bufferSize int) pipe.Node {
	return (&Shuffler{BufferSize: bufferSize}).Node()
}

// Node returns a graph node for the shuffle.
func (p *Shuffler) Node() pipe.Node {
	size := p.BufferSize
	if size <= 0 {
		size = DefaultShuffleBufferSize
	}
	return pipe.Node{
		Name: "shuffle",
		Build: func(_ pipe.BuildContext, inputs []pipe.Stage) (pipe.Stage, error) {
			in, err := single("shuffle", inputs)
			if err != nil {
				return nil, err
			}
			s := &shuffleStage{unary: unary{in: in}, size: size}
			s.seed(0)
			return s, nil
		},
	}
}

type shuffleStage struct {
	unary
	size    int
	buf     []any
	rng     *rand.Rand
	drained bool
}

// The second PCG word is fixed so that the whole stream depends on the
// shared seed only.
const pcgStream = 0x9e3779b97f4a7c15

func (s *shuffleStage) seed(seed uint64) {
	s.rng = rand.New(rand.NewPCG(seed, pcgStream))
}

func (s *shuffleStage) Next(ctx context.Context) (any, error) {
	for !s.drained && len(s.buf) < s.size {
		v, err := s.in.Next(ctx)
		if errors.Is(err, pipe.ErrExhausted) {
			s.drained = true
			break
		}
		if err != nil {
			return nil, err
		}
		s.buf = append(s.buf, v)
	}

	if len(s.buf) == 0 {
		return nil, pipe.ErrExhausted
	}

	i := s.rng.IntN(len(s.buf))
	last := len(s.buf) - 1
	v := s.buf[i]
	s.buf[i] = s.buf[last]
	s.buf[last] = nil
	s.buf = s.buf[:last]
	return v, nil
}

func (s *shuffleStage) Reset(ctx context.Context, state pipe.ResetState) error {
	s.buf = s.buf[:0]
	s.drained = false
	s.seed(state.Seed)
	return s.unary.Reset(ctx, state)
}
