package miband

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bandctl/internal/groutine"
)

var errStopped = errors.New("stream stopped")

// Stream is a long-running notification consumer with its own lifecycle.
// It ends when stopped, when its context ends, when the link drops or when a
// newer stream claims the same notification category.
type Stream struct {
	name   string
	cats   []Category
	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Name returns the stream name.
func (st *Stream) Name() string {
	return st.name
}

// Stop ends the stream and waits for its cleanup. It must not be called from
// a notification handler.
func (st *Stream) Stop() {
	st.cancel(errStopped)
	<-st.done
}

func (st *Stream) stop(cause error) {
	st.cancel(cause)
}

// Done is closed when the stream has ended.
func (st *Stream) Done() <-chan struct{} {
	return st.done
}

// Wait blocks until the stream ends and returns Err.
func (st *Stream) Wait() error {
	<-st.done
	return st.Err()
}

// Err returns why the stream ended: nil after Stop or a natural end, otherwise
// the cause (context error, ErrDisconnected, ErrSuperseded).
func (st *Stream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

// newStream creates a stream and claims its categories, superseding previous owners.
func (s *Session) newStream(ctx context.Context, name string, cats ...Category) *Stream {
	sctx, cancel := context.WithCancelCause(ctx)
	st := &Stream{name: name, cats: cats, ctx: sctx, cancel: cancel, done: make(chan struct{})}

	s.streamsMu.Lock()
	for _, c := range cats {
		if prev := s.owners[c]; prev != nil && prev != st {
			prev.stop(newError(KindSuperseded, name, "superseded by a newer stream", nil))
		}
		s.owners[c] = st
	}
	s.streams[st] = struct{}{}
	s.streamsMu.Unlock()
	return st
}

// owner returns the stream currently owning cat, if any.
func (s *Session) owner(cat Category) *Stream {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	return s.owners[cat]
}

// release drops st's category ownership and handlers. It reports whether st
// still owned any category, in which case its cleanup should run.
func (s *Session) release(st *Stream) bool {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()

	owned := false
	for _, c := range st.cats {
		if s.owners[c] == st {
			delete(s.owners, c)
			s.router.Unregister(c)
			owned = true
		}
	}
	delete(s.streams, st)
	return owned
}

// launch runs loop on a named goroutine, then cleanup if st still owns its categories.
func (s *Session) launch(st *Stream, loop func(ctx context.Context) error, cleanup func()) {
	groutine.Go(st.ctx, "stream-"+st.name, func(ctx context.Context) {
		defer close(st.done)

		err := loop(ctx)
		if err == nil {
			if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, errStopped) {
				err = cause
			}
		}
		st.cancel(errStopped)

		if s.release(st) && cleanup != nil {
			cleanup()
		}

		st.mu.Lock()
		st.err = err
		st.mu.Unlock()

		entry := s.log().WithField("stream", st.name)
		if err != nil {
			entry.WithField("error", err).Info("Stream ended")
		} else {
			entry.Debug("Stream stopped")
		}
	})
}

// abandon releases a stream that failed before launch.
func (s *Session) abandon(st *Stream, err error) {
	st.cancel(err)
	s.release(st)
	st.mu.Lock()
	st.err = err
	st.mu.Unlock()
	close(st.done)
}

func (s *Session) stopStreams(cause error) {
	s.streamsMu.Lock()
	streams := make([]*Stream, 0, len(s.streams))
	for st := range s.streams {
		streams = append(streams, st)
	}
	s.streamsMu.Unlock()

	for _, st := range streams {
		st.stop(cause)
	}
}

// StartHeartRateStream starts continuous heart rate monitoring. cb receives
// every raw BPM sample on the notification pump and must return promptly.
func (s *Session) StartHeartRateStream(ctx context.Context, cb func(bpm int)) (*Stream, error) {
	return s.startHeartRate(ctx, cb, false)
}

// startHeartRate starts a heart rate stream. A background stream neither
// reconnects nor replaces a running heart rate stream; it returns a nil
// stream when one is already running.
func (s *Session) startHeartRate(ctx context.Context, cb func(bpm int), background bool) (*Stream, error) {
	var st *Stream
	err := s.run(ctx, OpHeartRate, !background, func(ctx context.Context) error {
		if background && s.owner(CategoryHeartRate) != nil {
			return nil
		}
		if err := s.enable(OpHeartRate, CharHeartRateMeasure); err != nil {
			return err
		}
		for _, cmd := range [][]byte{hrStopManual, hrStopContinuous} {
			if err := s.write(OpHeartRate, CharHeartRateControl, cmd, true); err != nil {
				return err
			}
		}

		st = s.newStream(ctx, "heart-rate", CategoryHeartRate)
		s.router.Register(CategoryHeartRate, func(payload []byte) {
			bpm, err := decodeHeartRate(payload)
			if err != nil {
				s.log().WithField("error", err).Debug("Ignoring heart rate payload")
				return
			}
			s.pulse.Store(int32(bpm))
			if cb != nil {
				cb(bpm)
			}
		})

		if err := s.write(OpHeartRate, CharHeartRateControl, hrStartContinuous, true); err != nil {
			s.abandon(st, err)
			return err
		}
		return nil
	})
	if err != nil || st == nil {
		return nil, err
	}

	s.launch(st, func(ctx context.Context) error {
		ticker := time.NewTicker(s.opts.HeartRatePingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := s.write(OpHeartRate, CharHeartRateControl, hrPing, true); err != nil {
					return err
				}
			}
		}
	}, func() {
		if !s.State().linkUp() {
			return
		}
		if err := s.write(OpHeartRate, CharHeartRateControl, hrStopContinuous, true); err != nil {
			s.log().WithField("error", err).Debug("Failed to stop continuous heart rate")
		}
	})
	return st, nil
}

// StartDeviceSearch listens for the band's find-device events. onLost fires
// when the search starts on the band, onFound when it is dismissed, after
// which the stream ends. Either callback may be nil.
func (s *Session) StartDeviceSearch(ctx context.Context, onLost, onFound func()) (*Stream, error) {
	var st *Stream
	err := s.exec(ctx, OpDeviceSearch, func(ctx context.Context) error {
		if err := s.enable(OpDeviceSearch, CharDeviceEvent); err != nil {
			return err
		}
		st = s.newStream(ctx, "device-search", CategoryDeviceLost, CategoryDeviceFound)
		s.router.Register(CategoryDeviceLost, func([]byte) {
			if onLost != nil {
				onLost()
			}
		})
		s.router.Register(CategoryDeviceFound, func([]byte) {
			if onFound != nil {
				onFound()
			}
			st.stop(errStopped)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.launch(st, func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}, nil)
	return st, nil
}

// StartMusicControl relays music screen button presses to handler. Unlike
// other callbacks, handler runs on the stream goroutine and may call back into
// the session, for example to SetTrack. Focus-in pushes the last track set.
func (s *Session) StartMusicControl(ctx context.Context, handler func(MusicCommand)) (*Stream, error) {
	var st *Stream
	commands := make(chan MusicCommand, 16)
	err := s.exec(ctx, OpMusic, func(ctx context.Context) error {
		if err := s.enable(OpMusic, CharDeviceEvent); err != nil {
			return err
		}
		st = s.newStream(ctx, "music", CategoryMusic)
		s.router.Register(CategoryMusic, func(payload []byte) {
			if len(payload) < 2 {
				return
			}
			select {
			case commands <- MusicCommand(payload[1]):
			default:
				s.log().WithField("command", MusicCommand(payload[1])).Warn("Music command queue full, dropping")
			}
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.launch(st, func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case cmd := <-commands:
				s.log().WithField("command", cmd).Debug("Music command")
				if cmd == MusicFocusIn {
					if err := s.pushTrack(ctx); err != nil {
						s.log().WithField("error", err).Warn("Failed to push track")
					}
				}
				if handler != nil {
					handler(cmd)
				}
			}
		}
	}, nil)
	return st, nil
}

func (s *Session) pushTrack(ctx context.Context) error {
	s.streamsMu.Lock()
	t := s.track
	s.streamsMu.Unlock()
	if t == nil {
		return nil
	}
	return s.exec(ctx, OpMusic, func(context.Context) error {
		return s.writeTrack(*t)
	})
}

// fetchEvent is either a fetch control reply or a batch of decoded records,
// queued by the pump in arrival order.
type fetchEvent struct {
	control []byte
	entries []ActivityEntry
}

// fetchQueue is an unbounded FIFO so the pump never blocks on a slow caller.
type fetchQueue struct {
	mu     sync.Mutex
	items  []fetchEvent
	signal chan struct{}
}

func newFetchQueue() *fetchQueue {
	return &fetchQueue{signal: make(chan struct{}, 1)}
}

func (q *fetchQueue) push(ev fetchEvent) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *fetchQueue) pop() (fetchEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return fetchEvent{}, false
	}
	ev := q.items[0]
	q.items = q.items[1:]
	return ev, true
}

// GetActivityLog streams per-minute activity records in [start, end) to cb,
// in the order the band reports them. cb runs on the calling goroutine. The
// call returns when the band has nothing more to send, the interval is
// covered, ctx ends or the band stops answering for RequestTimeout.
func (s *Session) GetActivityLog(ctx context.Context, start, end time.Time, cb func(ActivityEntry)) error {
	if s.freezed {
		return s.freezedError(OpActivityLog)
	}
	if !end.After(start) {
		return invalidArgument(OpActivityLog, "end %s is not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	if cb == nil {
		return invalidArgument(OpActivityLog, "callback is required")
	}

	return s.exec(ctx, OpActivityLog, func(ctx context.Context) error {
		for _, char := range []string{CharFetch, CharActivityData} {
			if err := s.enable(OpActivityLog, char); err != nil {
				return err
			}
		}

		queue := newFetchQueue()
		var (
			mu      sync.Mutex
			first   time.Time
			records int
		)

		st := s.newStream(ctx, "activity-log", CategoryActivityControl, CategoryActivityData)
		defer func() {
			st.cancel(errStopped)
			s.release(st)
		}()

		s.router.Register(CategoryActivityControl, func(payload []byte) {
			queue.push(fetchEvent{control: append([]byte(nil), payload...)})
		})
		s.router.Register(CategoryActivityData, func(payload []byte) {
			mu.Lock()
			entries, err := decodeActivityPacket(payload, first.Add(time.Duration(records)*time.Minute))
			records += len(entries)
			mu.Unlock()
			if err != nil {
				s.log().WithField("error", err).Debug("Ignoring activity packet")
				return
			}
			queue.push(fetchEvent{entries: entries})
		})

		var last time.Time
		if err := s.write(OpActivityLog, CharFetch, encodeFetchStart(start), false); err != nil {
			return err
		}

		idle := time.NewTimer(s.opts.RequestTimeout)
		defer idle.Stop()

		for {
			ev, ok := queue.pop()
			if !ok {
				select {
				case <-st.ctx.Done():
					if cause := context.Cause(st.ctx); cause != nil && !errors.Is(cause, errStopped) {
						return cause
					}
					return nil
				case <-idle.C:
					return newError(KindTimeout, OpActivityLog, "band stopped sending activity data", nil)
				case <-queue.signal:
				}
				continue
			}

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.opts.RequestTimeout)

			for _, e := range ev.entries {
				last = e.Timestamp
				if !e.Timestamp.Before(start) && e.Timestamp.Before(end) {
					cb(e)
				}
			}

			switch {
			case ev.control == nil:
			case bytes.HasPrefix(ev.control, fetchStarted):
				ts, err := decodeFetchStart(ev.control, start.Location())
				if err != nil {
					return err
				}
				mu.Lock()
				first, records = ts, 0
				mu.Unlock()
				s.log().WithField("first", ts).Debug("Activity fetch started")
				if err := s.write(OpActivityLog, CharFetch, fetchAck, false); err != nil {
					return err
				}
			case bytes.HasPrefix(ev.control, fetchBatchEnd):
				if last.IsZero() || !last.Before(end.Add(-time.Minute)) {
					return nil
				}
				next := last.Add(time.Minute)
				s.log().WithField("since", next).Debug("Activity batch complete, fetching more")
				if err := s.write(OpActivityLog, CharFetch, encodeFetchStart(next), false); err != nil {
					return err
				}
			case bytes.HasPrefix(ev.control, fetchNoMore):
				return nil
			default:
				s.log().WithFields(logrus.Fields{"payload": ev.control}).Debug("Unexpected fetch reply")
			}
		}
	})
}
