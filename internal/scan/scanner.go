package scan

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/regscout/remote"
	"github.com/timzifer/regscout/telemetry"
)

// Options tunes one scanner instance. The zero value is usable for tests;
// production callers set the endpoint identity so exports carry it.
type Options struct {
	Host   string
	Port   int
	UnitID uint8

	// Delay is the minimum pause between consecutive transport requests.
	Delay time.Duration
	// Retries is how often a timed-out or disconnected window is retried at
	// the same width before it is narrowed.
	Retries int

	Logger    zerolog.Logger
	Collector telemetry.Collector
}

// Scanner drives batched reads over a single serialized transport link. One
// scanner owns its client exclusively; scanning several devices concurrently
// means one scanner (and one client) per device.
type Scanner struct {
	client    remote.Client
	opts      Options
	collector telemetry.Collector
	logger    zerolog.Logger
}

// New creates a scanner on top of a connected transport client.
func New(client remote.Client, opts Options) (*Scanner, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: transport client must not be nil", ErrInvalidConfiguration)
	}
	if opts.Delay < 0 {
		return nil, fmt.Errorf("%w: delay must not be negative", ErrInvalidConfiguration)
	}
	if opts.Retries < 0 {
		return nil, fmt.Errorf("%w: retries must not be negative", ErrInvalidConfiguration)
	}
	collector := opts.Collector
	if collector == nil {
		collector = telemetry.Noop()
	}
	return &Scanner{client: client, opts: opts, collector: collector, logger: opts.Logger}, nil
}

// session carries the per-invocation scan state so nothing survives across
// Scan calls.
type session struct {
	snap     *Snapshot
	failures []FailureRecord
	started  bool
}

// Scan reads every address of the given ranges in batches of at most batch
// addresses. Transport failures are absorbed into failure records; together
// with the snapshot they account for every requested address exactly once.
// Cancellation returns the partial snapshot accumulated so far along with the
// context error.
func (s *Scanner) Scan(ctx context.Context, ranges []AddressRange, batch int) (*Snapshot, []FailureRecord, error) {
	meta := ScanInfo{
		Timestamp: time.Now(),
		Host:      s.opts.Host,
		Port:      s.opts.Port,
		UnitID:    s.opts.UnitID,
		Ranges:    append([]AddressRange(nil), ranges...),
	}

	// Plan everything up front so configuration errors surface before the
	// first request goes out.
	plans := make([][]Window, len(ranges))
	for i, r := range ranges {
		windows, err := Windows(r, batch)
		if err != nil {
			return nil, nil, err
		}
		plans[i] = windows
	}

	start := time.Now()
	sess := &session{snap: NewSnapshot(meta)}
	for i, windows := range plans {
		s.logger.Debug().
			Str("space", string(ranges[i].Space)).
			Int("start", ranges[i].Start).
			Int("end", ranges[i].End).
			Int("windows", len(windows)).
			Msg("scanning range")
		for _, w := range windows {
			if err := s.scanWindow(ctx, sess, w); err != nil {
				s.collector.ObserveScanDuration(time.Since(start))
				return sess.snap, sess.failures, err
			}
		}
	}
	s.collector.ObserveScanDuration(time.Since(start))
	return sess.snap, sess.failures, nil
}

// scanWindow issues one batched read and handles its failure modes: device
// exceptions fail every address of the window immediately, timeouts and
// connection errors are retried and then narrowed down to single addresses.
func (s *Scanner) scanWindow(ctx context.Context, sess *session, w Window) error {
	var last remote.Failure
	for attempt := 0; attempt <= s.opts.Retries; attempt++ {
		if err := s.pace(ctx, sess); err != nil {
			return err
		}
		data, err := s.read(w)
		if err == nil {
			return s.record(sess, w, data)
		}
		failure := remote.Classify(err)
		s.logger.Debug().
			Str("space", string(w.Space)).
			Int("start", w.Start).
			Int("length", w.Length).
			Str("kind", string(failure.Kind)).
			Int("attempt", attempt+1).
			Err(err).
			Msg("window read failed")
		if failure.Kind == remote.FailureDeviceException {
			// The exception does not pinpoint a single offending address, so
			// the whole window is recorded as rejected without retrying.
			sess.fail(w, failure, attempt+1)
			s.collector.IncFailures(string(w.Space), string(failure.Kind), w.Length)
			return nil
		}
		last = failure
	}

	if w.Length <= 1 {
		sess.fail(w, last, s.opts.Retries+1)
		s.collector.IncFailures(string(w.Space), string(last.Kind), w.Length)
		return nil
	}

	s.collector.IncNarrowed(string(w.Space))
	s.logger.Info().
		Str("space", string(w.Space)).
		Int("start", w.Start).
		Int("length", w.Length).
		Msg("narrowing failed window")
	for _, nw := range Narrow(w) {
		if err := s.scanWindow(ctx, sess, nw); err != nil {
			return err
		}
	}
	return nil
}

// pace enforces the inter-request delay. The wait is a suspension point and
// aborts promptly on cancellation.
func (s *Scanner) pace(ctx context.Context, sess *session) error {
	if !sess.started {
		sess.started = true
		return ctx.Err()
	}
	if s.opts.Delay <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(s.opts.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Scanner) read(w Window) ([]byte, error) {
	start := uint16(w.Start)
	quantity := uint16(w.Length)
	switch w.Space {
	case SpaceCoil:
		return s.client.ReadCoils(start, quantity)
	case SpaceDiscrete:
		return s.client.ReadDiscreteInputs(start, quantity)
	case SpaceHolding:
		return s.client.ReadHoldingRegisters(start, quantity)
	case SpaceInput:
		return s.client.ReadInputRegisters(start, quantity)
	default:
		return nil, fmt.Errorf("unsupported object space %q", string(w.Space))
	}
}

// record decodes a successful window response into one reading per address.
// Short responses violate the transport contract and terminate the scan.
func (s *Scanner) record(sess *session, w Window, data []byte) error {
	now := time.Now()
	if w.Space.Bits() {
		need := (w.Length + 7) / 8
		if len(data) < need {
			return fmt.Errorf("%w: %s window at %d returned %d bytes, want %d", ErrInvalidRawValue, w.Space, w.Start, len(data), need)
		}
		for i := 0; i < w.Length; i++ {
			bit := (data[i/8]>>(i%8))&0x01 == 1
			raw := 0
			if bit {
				raw = 1
			}
			interp, err := Interpret(w.Space, raw, bit)
			if err != nil {
				return err
			}
			sess.snap.insert(RawReading{
				Space:     w.Space,
				Address:   w.Start + i,
				Raw:       uint16(raw),
				Bit:       bit,
				Timestamp: now,
				Interp:    interp,
			})
		}
	} else {
		need := w.Length * 2
		if len(data) < need {
			return fmt.Errorf("%w: %s window at %d returned %d bytes, want %d", ErrInvalidRawValue, w.Space, w.Start, len(data), need)
		}
		for i := 0; i < w.Length; i++ {
			raw := int(binary.BigEndian.Uint16(data[2*i:]))
			interp, err := Interpret(w.Space, raw, false)
			if err != nil {
				return err
			}
			sess.snap.insert(RawReading{
				Space:     w.Space,
				Address:   w.Start + i,
				Raw:       uint16(raw),
				Timestamp: now,
				Interp:    interp,
			})
		}
	}
	s.collector.IncReads(string(w.Space), w.Length)
	return nil
}

func (sess *session) fail(w Window, failure remote.Failure, attempts int) {
	for addr := w.Start; addr < w.End(); addr++ {
		sess.failures = append(sess.failures, FailureRecord{
			Space:         w.Space,
			Address:       addr,
			Kind:          failure.Kind,
			ExceptionCode: failure.ExceptionCode,
			Attempts:      attempts,
		})
	}
}
