package auth

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/basilica-network/term-executor/internal/oracle"
)

// ss58GenericPrefix is the Substrate "generic" network prefix used to
// encode a neuron's raw public key into a printable PeerId.
const ss58GenericPrefix = 42

// Whitelist is the read-mostly set of currently stake-qualified peer
// identities (C1). Reads never block behind the refresher: the current
// set is an immutable map swapped in atomically.
type Whitelist struct {
	oracle    oracle.Oracle
	minStake  float64
	set       atomic.Pointer[map[string]struct{}]
	retryWait []time.Duration
}

// NewWhitelist constructs an empty Whitelist; it stays cold (size 0) until
// the first successful refresh.
func NewWhitelist(o oracle.Oracle, minStake float64) *Whitelist {
	w := &Whitelist{
		oracle:    o,
		minStake:  minStake,
		retryWait: []time.Duration{2 * time.Second, 4 * time.Second},
	}
	empty := map[string]struct{}{}
	w.set.Store(&empty)
	return w
}

// Contains reports whether id is in the current snapshot.
func (w *Whitelist) Contains(id string) bool {
	snap := w.set.Load()
	if snap == nil {
		return false
	}
	_, ok := (*snap)[id]
	return ok
}

// Size reports the current snapshot's cardinality.
func (w *Whitelist) Size() int {
	snap := w.set.Load()
	if snap == nil {
		return 0
	}
	return len(*snap)
}

// RefreshLoop runs until done is closed, calling RefreshOnce every
// interval. It is meant to be launched as a background goroutine at
// startup.
func (w *Whitelist) RefreshLoop(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			w.RefreshOnce(context.Background())
		}
	}
}

// RefreshOnce asks the oracle for a full snapshot, retrying up to twice
// more (delays 2s, 4s) on error. On total failure the cached set is kept
// unchanged and a warning is logged.
func (w *Whitelist) RefreshOnce(ctx context.Context) {
	var neurons []oracle.Neuron
	var err error

	attempts := 1 + len(w.retryWait)
	for attempt := 0; attempt < attempts; attempt++ {
		neurons, err = w.oracle.Neurons(ctx)
		if err == nil {
			break
		}
		if attempt < len(w.retryWait) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.retryWait[attempt]):
			}
		}
	}
	if err != nil {
		log.Printf("WARNING: whitelist refresh failed after %d attempts, keeping cached set: %v", attempts, err)
		return
	}

	fresh := make(map[string]struct{}, len(neurons))
	for _, n := range neurons {
		if !n.ValidatorPermit || !n.Active || n.Stake < w.minStake {
			continue
		}
		if len(n.Hotkey) != 32 {
			continue
		}
		peerID, encErr := EncodeSS58(ss58GenericPrefix, n.Hotkey)
		if encErr != nil {
			continue
		}
		fresh[peerID] = struct{}{}
	}

	w.set.Store(&fresh)
}
