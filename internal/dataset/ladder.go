package dataset

import (
	"errors"
	"fmt"
	"time"
)

// Forever marks the last rung of a compaction ladder: "the last duration
// is forever" (§4.10 Compaction).
const Forever time.Duration = -1

// MinInterval is the shortest interval a compaction ladder's finest rung
// may declare; sub-minimum intervals are rejected by ValidateLadder.
const MinInterval = time.Minute

// CompactionStep is one (interval, duration) rung of a compaction ladder:
// buckets younger than the cumulative duration up to and including this
// rung are kept (or rolled up) at this interval.
type CompactionStep struct {
	Interval time.Duration
	Duration time.Duration
}

// DefaultLadder is spec.md §4.10's example default: "1 min × 2 h, 5 min ×
// 46 h, 10 min × 2 d, 20 min × 24 d, 1 h forever."
var DefaultLadder = []CompactionStep{
	{Interval: time.Minute, Duration: 2 * time.Hour},
	{Interval: 5 * time.Minute, Duration: 46 * time.Hour},
	{Interval: 10 * time.Minute, Duration: 2 * 24 * time.Hour},
	{Interval: 20 * time.Minute, Duration: 24 * 24 * time.Hour},
	{Interval: time.Hour, Duration: Forever},
}

// ErrInvalidLadder is returned by ValidateLadder for a malformed
// compaction configuration (§4.10: "each successive interval must be an
// integer multiple of the previous").
var ErrInvalidLadder = errors.New("dataset: invalid compaction ladder")

// ValidateLadder checks that ladder is non-empty, its last rung is
// Forever, every interval is at least MinInterval and minute-aligned
// (divides evenly into time.Minute boundaries), and each successive
// interval is a strictly larger integer multiple of the previous one.
func ValidateLadder(ladder []CompactionStep) error {
	if len(ladder) == 0 {
		return fmt.Errorf("%w: empty ladder", ErrInvalidLadder)
	}

	for i, step := range ladder {
		if step.Interval < MinInterval {
			return fmt.Errorf("%w: rung %d interval %s below minimum %s", ErrInvalidLadder, i, step.Interval, MinInterval)
		}

		if step.Interval%time.Minute != 0 {
			return fmt.Errorf("%w: rung %d interval %s does not divide evenly into a minute", ErrInvalidLadder, i, step.Interval)
		}

		if i == len(ladder)-1 {
			if step.Duration != Forever {
				return fmt.Errorf("%w: last rung must declare Forever duration", ErrInvalidLadder)
			}
		} else if step.Duration <= 0 {
			return fmt.Errorf("%w: rung %d duration must be positive", ErrInvalidLadder, i)
		}

		if i > 0 {
			prev := ladder[i-1].Interval
			if step.Interval <= prev || step.Interval%prev != 0 {
				return fmt.Errorf("%w: rung %d interval %s must be a strictly larger integer multiple of rung %d's %s", ErrInvalidLadder, i, step.Interval, i-1, prev)
			}
		}
	}

	return nil
}

// intervalForAge returns the interval the ladder prescribes for a bucket
// of the given age.
func intervalForAge(ladder []CompactionStep, age time.Duration) time.Duration {
	var cumulative time.Duration

	for _, step := range ladder {
		if step.Duration == Forever || age < cumulative+step.Duration {
			return step.Interval
		}

		cumulative += step.Duration
	}

	return ladder[len(ladder)-1].Interval
}
