package testutils

import (
	"bytes"
	"context"
	"crypto/aes"
	"fmt"
	"sync"
	"time"

	"github.com/srg/bandctl/internal/device"
)

// Characteristic keys the fake answers on, in device.NormalizeUUID form.
const (
	FakeAuthChar      = "000000090000351221180009af100700"
	FakeHRControlChar = "2a39"
	FakeHRMeasureChar = "2a37"
)

// FakeChallenge is the random number the fake band hands out during auth.
var FakeChallenge = []byte{
	0x2b, 0x7e, 0x15, 0x16, 0x28, 0xae, 0xd2, 0xa6,
	0xab, 0xf7, 0x15, 0x88, 0x09, 0xcf, 0x4f, 0x3c,
}

// AuthMode selects how the fake band answers authentication.
type AuthMode int

const (
	AuthAccept AuthMode = iota
	// AuthRejectOnce rejects the first encrypted answer, then accepts after the key is re-sent.
	AuthRejectOnce
	AuthReject
	AuthSilent
)

// Write is one recorded characteristic write.
type Write struct {
	Char         string
	Data         []byte
	WithResponse bool
}

// FakeBand is an in-memory band implementing device.Transport.
//
// Reads are served from SetRead values, writes are recorded and passed to
// OnWrite responders, and Push queues notifications for subscribed
// characteristics. Authentication is answered for the configured key.
type FakeBand struct {
	mu sync.Mutex

	key      []byte
	authMode AuthMode
	rejected bool

	connected    bool
	connectCalls int
	failConnects int
	connectErr   error
	connectDelay time.Duration

	reads      map[string][]byte
	readErrs   map[string]error
	writeErrs  map[string]error
	writes     []Write
	responders map[string]func(data []byte)
	subscribed map[string]bool

	listener device.Listener
	queue    *device.RingChannel[device.Notification]
}

// NewFakeBand creates a band that accepts key.
func NewFakeBand(key []byte) *FakeBand {
	return &FakeBand{
		key:        key,
		reads:      make(map[string][]byte),
		readErrs:   make(map[string]error),
		writeErrs:  make(map[string]error),
		responders: make(map[string]func([]byte)),
		subscribed: make(map[string]bool),
		queue:      device.NewRingChannel[device.Notification](1024),
	}
}

// SetAuthMode changes how authentication is answered.
func (f *FakeBand) SetAuthMode(m AuthMode) {
	f.mu.Lock()
	f.authMode = m
	f.rejected = false
	f.mu.Unlock()
}

// FailNextConnects makes the next n Connect calls fail with device.ErrNotConnected.
func (f *FakeBand) FailNextConnects(n int) {
	f.mu.Lock()
	f.failConnects = n
	f.mu.Unlock()
}

// SetConnectError makes every Connect fail with err until cleared with nil.
func (f *FakeBand) SetConnectError(err error) {
	f.mu.Lock()
	f.connectErr = err
	f.mu.Unlock()
}

// SetConnectDelay makes Connect take d.
func (f *FakeBand) SetConnectDelay(d time.Duration) {
	f.mu.Lock()
	f.connectDelay = d
	f.mu.Unlock()
}

// SetRead sets the value returned by reads of char.
func (f *FakeBand) SetRead(char string, data []byte) {
	f.mu.Lock()
	f.reads[device.NormalizeUUID(char)] = data
	f.mu.Unlock()
}

// SetReadError makes reads of char fail.
func (f *FakeBand) SetReadError(char string, err error) {
	f.mu.Lock()
	f.readErrs[device.NormalizeUUID(char)] = err
	f.mu.Unlock()
}

// SetWriteError makes writes to char fail; nil clears it.
func (f *FakeBand) SetWriteError(char string, err error) {
	f.mu.Lock()
	if err == nil {
		delete(f.writeErrs, device.NormalizeUUID(char))
	} else {
		f.writeErrs[device.NormalizeUUID(char)] = err
	}
	f.mu.Unlock()
}

// OnWrite installs a responder called after each successful write to char.
// Responders typically Push replies.
func (f *FakeBand) OnWrite(char string, fn func(data []byte)) {
	f.mu.Lock()
	f.responders[device.NormalizeUUID(char)] = fn
	f.mu.Unlock()
}

// Push queues a notification on char. It reports false when char is not subscribed
// or the link is down, which is when a real band would not deliver it.
func (f *FakeBand) Push(char string, data []byte) bool {
	key := device.NormalizeUUID(char)
	f.mu.Lock()
	ok := f.connected && f.subscribed[key]
	f.mu.Unlock()
	if !ok {
		return false
	}
	f.queue.Send(device.Notification{Char: key, Data: append([]byte(nil), data...), TsUs: time.Now().UnixMicro()})
	return true
}

// DropLink simulates the band going out of range.
func (f *FakeBand) DropLink() {
	f.mu.Lock()
	f.connected = false
	f.subscribed = make(map[string]bool)
	f.mu.Unlock()
}

// ConnectCalls returns how many times Connect was invoked.
func (f *FakeBand) ConnectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

// Writes returns the payloads written to char, oldest first.
func (f *FakeBand) Writes(char string) [][]byte {
	key := device.NormalizeUUID(char)
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, w := range f.writes {
		if w.Char == key {
			out = append(out, w.Data)
		}
	}
	return out
}

// AllWrites returns every recorded write.
func (f *FakeBand) AllWrites() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Write(nil), f.writes...)
}

// Subscribed reports whether notifications are enabled on char.
func (f *FakeBand) Subscribed(char string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[device.NormalizeUUID(char)]
}

// Connect implements device.Transport.
func (f *FakeBand) Connect(ctx context.Context, address string, timeout time.Duration) error {
	f.mu.Lock()
	f.connectCalls++
	delay := f.connectDelay
	var err error
	switch {
	case f.connected:
		err = device.ErrAlreadyConnected
	case f.connectErr != nil:
		err = f.connectErr
	case f.failConnects > 0:
		f.failConnects--
		err = fmt.Errorf("failed to connect to device with address %q: %w", address, device.ErrNotConnected)
	}
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.connected = true
	f.subscribed = make(map[string]bool)
	f.mu.Unlock()
	f.queue.Drain()
	return nil
}

// Disconnect implements device.Transport.
func (f *FakeBand) Disconnect() error {
	f.mu.Lock()
	f.connected = false
	f.subscribed = make(map[string]bool)
	f.mu.Unlock()
	f.queue.Drain()
	return nil
}

// IsConnected implements device.Transport.
func (f *FakeBand) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Read implements device.Transport.
func (f *FakeBand) Read(char string) ([]byte, error) {
	key := device.NormalizeUUID(char)
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, device.ErrNotConnected
	}
	if err := f.readErrs[key]; err != nil {
		return nil, err
	}
	data, ok := f.reads[key]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{char}}
	}
	return append([]byte(nil), data...), nil
}

// Write implements device.Transport.
func (f *FakeBand) Write(char string, data []byte, withResponse bool) error {
	key := device.NormalizeUUID(char)
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return device.ErrNotConnected
	}
	if err := f.writeErrs[key]; err != nil {
		f.mu.Unlock()
		return err
	}
	f.writes = append(f.writes, Write{Char: key, Data: append([]byte(nil), data...), WithResponse: withResponse})
	responder := f.responders[key]
	f.mu.Unlock()

	if key == FakeAuthChar {
		f.answerAuth(data)
	}
	if responder != nil {
		responder(data)
	}
	return nil
}

// EnableNotifications implements device.Transport.
func (f *FakeBand) EnableNotifications(char string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return device.ErrNotConnected
	}
	f.subscribed[device.NormalizeUUID(char)] = true
	return nil
}

// SetListener implements device.Transport.
func (f *FakeBand) SetListener(l device.Listener) {
	f.mu.Lock()
	f.listener = l
	f.mu.Unlock()
}

// WaitForNotification implements device.Transport.
func (f *FakeBand) WaitForNotification(timeout time.Duration) (bool, error) {
	if !f.IsConnected() {
		return false, device.ErrNotConnected
	}
	n, ok := f.queue.ReceiveTimeout(timeout)
	if !ok {
		if !f.IsConnected() {
			return false, device.ErrNotConnected
		}
		return false, nil
	}

	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	if l == nil {
		return false, nil
	}
	l(n)
	return true, nil
}

func (f *FakeBand) answerAuth(data []byte) {
	f.mu.Lock()
	mode, key := f.authMode, f.key
	f.mu.Unlock()

	if mode == AuthSilent || len(data) < 2 {
		return
	}

	switch data[0] {
	case 0x01:
		f.mu.Lock()
		if len(data) == 18 {
			f.key = append([]byte(nil), data[2:]...)
		}
		f.mu.Unlock()
		f.Push(FakeAuthChar, []byte{0x10, 0x01, 0x01})
	case 0x02:
		f.Push(FakeAuthChar, append([]byte{0x10, 0x02, 0x01}, FakeChallenge...))
	case 0x03:
		if f.acceptEncrypted(mode, key, data[2:]) {
			f.Push(FakeAuthChar, []byte{0x10, 0x03, 0x01})
		} else {
			f.Push(FakeAuthChar, []byte{0x10, 0x03, 0x04})
		}
	}
}

func (f *FakeBand) acceptEncrypted(mode AuthMode, key, answer []byte) bool {
	switch mode {
	case AuthReject:
		return false
	case AuthRejectOnce:
		f.mu.Lock()
		first := !f.rejected
		f.rejected = true
		f.mu.Unlock()
		if first {
			return false
		}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return false
	}
	want := make([]byte, aes.BlockSize)
	block.Encrypt(want, FakeChallenge)
	return bytes.Equal(want, answer)
}

var _ device.Transport = (*FakeBand)(nil)
