package dlm

import (
	"os"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts every non-deterministic input the protocol depends on -
// wall-clock time, this process's diagnostic host identifier, and fencing
// token generation - so tests can control all three deterministically
// instead of only the clock.
type Clock interface {
	Now() time.Time
	// HostID returns a stable per-process diagnostic string. Correctness of
	// the protocol never depends on it being unique.
	HostID() string
	// NewVersion returns a fresh, globally-unique fencing token per call.
	NewVersion() string
}

type systemClock struct{}

// NewSystemClock returns a Clock backed by time.Now(), os.Hostname and
// random UUIDs.
func NewSystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

// HostID falls back to a random UUID if the hostname cannot be determined,
// mirroring the fallback the original implementation uses when the OS
// refuses to report a hostname.
func (systemClock) HostID() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return uuid.NewString()
	}
	return name
}

func (systemClock) NewVersion() string {
	return uuid.NewString()
}
