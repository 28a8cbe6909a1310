package scan

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// VolatilityKind classifies how an address behaved across repeated samples.
type VolatilityKind string

const (
	// VolatilityStatic marks addresses whose value never changed.
	VolatilityStatic VolatilityKind = "static"
	// VolatilityVolatile marks addresses whose value changed at least once.
	VolatilityVolatile VolatilityKind = "volatile"
	// VolatilityUnobservable marks addresses that failed on every sample.
	VolatilityUnobservable VolatilityKind = "unobservable"
)

// Volatility is the per-address result of a monitoring run.
type Volatility struct {
	Kind    VolatilityKind
	Changes int
	Samples int
}

type track struct {
	observed bool
	prev     uint16
	changes  int
	samples  int
}

// Monitor re-samples the given addresses once per interval for the total
// duration and classifies each as static, volatile or unobservable. A change
// is counted against the immediately preceding recorded value. Cancellation
// returns the classification accumulated so far along with the context error.
func (s *Scanner) Monitor(ctx context.Context, addresses []AddressKey, interval, total time.Duration) (map[AddressKey]Volatility, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: monitor interval must be positive", ErrInvalidConfiguration)
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: monitor duration must be positive", ErrInvalidConfiguration)
	}
	if len(addresses) == 0 {
		return map[AddressKey]Volatility{}, nil
	}

	ranges, batch := coverage(addresses)
	samples := int(total / interval)
	if samples < 1 {
		samples = 1
	}

	state := make(map[AddressKey]*track, len(addresses))
	for _, key := range addresses {
		state[key] = &track{}
	}

	s.logger.Info().
		Int("addresses", len(addresses)).
		Int("samples", samples).
		Dur("interval", interval).
		Msg("monitoring addresses for changes")

	for i := 0; i < samples; i++ {
		snap, _, err := s.Scan(ctx, ranges, batch)
		if snap != nil {
			s.observe(state, addresses, snap)
		}
		if err != nil {
			return classify(state, addresses), err
		}
		if i == samples-1 {
			break
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return classify(state, addresses), ctx.Err()
		case <-timer.C:
		}
	}
	return classify(state, addresses), nil
}

func (s *Scanner) observe(state map[AddressKey]*track, addresses []AddressKey, snap *Snapshot) {
	for _, key := range addresses {
		reading, ok := snap.Reading(key.Space, key.Address)
		if !ok {
			continue
		}
		t := state[key]
		if t.observed && t.prev != reading.Raw {
			t.changes++
			s.logger.Debug().
				Str("space", string(key.Space)).
				Int("address", key.Address).
				Uint16("previous", t.prev).
				Uint16("current", reading.Raw).
				Msg("monitored value changed")
		}
		t.prev = reading.Raw
		t.observed = true
		t.samples++
	}
}

func classify(state map[AddressKey]*track, addresses []AddressKey) map[AddressKey]Volatility {
	result := make(map[AddressKey]Volatility, len(addresses))
	for _, key := range addresses {
		t := state[key]
		switch {
		case t == nil || !t.observed:
			result[key] = Volatility{Kind: VolatilityUnobservable}
		case t.changes == 0:
			result[key] = Volatility{Kind: VolatilityStatic, Samples: t.samples}
		default:
			result[key] = Volatility{Kind: VolatilityVolatile, Changes: t.changes, Samples: t.samples}
		}
	}
	return result
}

// coverage merges the tracked addresses into minimal contiguous ranges per
// object space and returns a batch size wide enough to read each range in one
// request.
func coverage(addresses []AddressKey) ([]AddressRange, int) {
	bySpace := make(map[Space][]int)
	for _, key := range addresses {
		bySpace[key.Space] = append(bySpace[key.Space], key.Address)
	}

	var ranges []AddressRange
	batch := 1
	for _, space := range Spaces {
		addrs := bySpace[space]
		if len(addrs) == 0 {
			continue
		}
		sort.Ints(addrs)
		start := addrs[0]
		prev := addrs[0]
		for _, addr := range addrs[1:] {
			if addr == prev {
				continue
			}
			if addr != prev+1 {
				ranges = append(ranges, AddressRange{Space: space, Start: start, End: prev + 1})
				if width := prev + 1 - start; width > batch {
					batch = width
				}
				start = addr
			}
			prev = addr
		}
		ranges = append(ranges, AddressRange{Space: space, Start: start, End: prev + 1})
		if width := prev + 1 - start; width > batch {
			batch = width
		}
	}
	return ranges, batch
}
