package main

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/srg/bandctl/pkg/miband"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"

	phaseReady = "Ready"
)

// ProgressPrinter displays the connection phase with elapsed time until the
// session is ready.
//
// Usage:
//
//	p := NewProgressPrinter(w, "Reading battery", "Connecting")
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use: Start may be called at most once, and the
// caller must call Stop to terminate the internal goroutine.
type ProgressPrinter struct {
	out        io.Writer
	prefix     string
	phase      atomic.Value // string
	stopPhases map[string]struct{}
	startTime  time.Time
	ticker     atomic.Pointer[time.Ticker]
	stopChan   chan struct{}
	done       chan struct{}
	started    atomic.Bool
}

// NewProgressPrinter creates a progress printer writing to out. Setting any of
// stopPhases through Callback stops it.
func NewProgressPrinter(out io.Writer, prefix string, phase string, stopPhases ...string) *ProgressPrinter {
	stopSet := make(map[string]struct{})
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{
		out:        out,
		prefix:     prefix,
		stopPhases: stopSet,
	}
	p.phase.Store(phase)
	return p
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once on the same ProgressPrinter instance.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	p.done = make(chan struct{})
	p.stopChan = make(chan struct{})
	p.startTime = time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)

	fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, p.phase.Load().(string))

	go func() {
		defer close(p.done)
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				phase := p.phase.Load().(string)
				if _, stop := p.stopPhases[phase]; stop {
					return
				}
				if seconds := int(time.Since(p.startTime).Seconds()); seconds > 0 {
					fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
				} else {
					fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
				}
			}
		}
	}()
}

// Callback returns a function that updates the phase. A stop phase stops the
// printer. Safe for concurrent use.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, stop := p.stopPhases[phase]; stop {
			p.Stop()
		}
	}
}

// StateObserver adapts Callback to session state changes.
func (p *ProgressPrinter) StateObserver() func(miband.StateChange) {
	cb := p.Callback()
	return func(c miband.StateChange) {
		cb(phaseFor(c))
	}
}

func phaseFor(c miband.StateChange) string {
	switch c.To {
	case miband.Connecting:
		return "Connecting"
	case miband.Connected:
		return "Authenticating"
	case miband.Authenticated:
		return phaseReady
	case miband.Disconnected:
		if c.Err != nil {
			return "Retrying"
		}
		return "Disconnected"
	default:
		return c.To.String()
	}
}

// Stop stops the progress display and clears the line. Only the first call
// has an effect; it is safe to call from multiple goroutines.
func (p *ProgressPrinter) Stop() {
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return
	}

	ticker.Stop()
	close(p.stopChan)
	<-p.done

	fmt.Fprint(p.out, clearLineSequence)
}
