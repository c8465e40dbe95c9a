// Package delay picks randomized message delays for resume scheduling.
package delay

import "fmt"

const (
	// DefaultLow is the default lower bound in seconds.
	DefaultLow = 300
	// DefaultHigh is the default upper bound in seconds.
	DefaultHigh = 900
	// MaxSQSDelay is the largest per-message delay SQS accepts.
	MaxSQSDelay = 900
)

// Source is the randomness a delay is drawn from. *math/rand/v2.Rand
// satisfies it.
type Source interface {
	IntN(n int) int
}

// SelectDelaySeconds returns a delay in [low, high], both bounds inclusive.
func SelectDelaySeconds(src Source, low, high int) (int, error) {
	if src == nil {
		return 0, fmt.Errorf("delay: nil source")
	}
	if low < 0 {
		return 0, fmt.Errorf("delay: low bound %d is negative", low)
	}
	if low > high {
		return 0, fmt.Errorf("delay: low bound %d exceeds high bound %d", low, high)
	}
	if high > MaxSQSDelay {
		return 0, fmt.Errorf("delay: high bound %d exceeds SQS maximum %d", high, MaxSQSDelay)
	}
	return low + src.IntN(high-low+1), nil
}
