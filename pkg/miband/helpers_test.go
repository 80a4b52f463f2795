package miband

import (
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/srg/bandctl/internal/testutils"
	"github.com/stretchr/testify/require"
)

const (
	testMAC    = "AA:BB:CC:DD:EE:FF"
	testKeyHex = "8fa9b42078627a654d22beff985655db"
)

var testBandTime = time.Date(2024, time.May, 4, 9, 30, 0, 0, time.FixedZone("", 7200))

func testOptions() Options {
	o := DefaultOptions()
	o.ConnectTimeout = time.Second
	o.ReconnectBackoff = 10 * time.Millisecond
	o.RequestTimeout = 500 * time.Millisecond
	o.AuthStepTimeout = 200 * time.Millisecond
	o.HeartRateTimeout = 500 * time.Millisecond
	o.PollInterval = 2 * time.Millisecond
	o.HeartRatePingInterval = 20 * time.Millisecond
	o.FirmwareSettle = 5 * time.Millisecond
	o.PulseOnConnect = false
	return o
}

func newFakeBand(t *testing.T) *testutils.FakeBand {
	t.Helper()
	key, err := hex.DecodeString(testKeyHex)
	require.NoError(t, err)

	band := testutils.NewFakeBand(key)
	band.SetRead(CharBattery, []byte{15, 80, 0})
	band.SetRead(CharSteps, []byte{12, 0x10, 0x27, 0, 0, 100, 0, 0, 0, 42})
	band.SetRead(CharSerialNumber, []byte("SN0001"))
	band.SetRead(CharHardwareRevision, []byte("V0.25.17.5"))
	band.SetRead(CharSoftwareRevision, []byte("1.0.9.66\x00"))
	band.SetRead(CharCurrentTime, encodeTime(testBandTime))
	return band
}

func newTestSession(t *testing.T, tweak ...func(*Options)) (*Session, *testutils.FakeBand) {
	t.Helper()
	band := newFakeBand(t)
	opts := testOptions()
	for _, fn := range tweak {
		fn(&opts)
	}
	s, err := NewSession(testMAC, testKeyHex, band, opts, testutils.NewTestHelper(t).Logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Disconnect() })
	return s, band
}

// recorder collects values from callbacks running on other goroutines.
type recorder[T any] struct {
	mu     sync.Mutex
	values []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.mu.Unlock()
}

func (r *recorder[T]) get() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...)
}

func (r *recorder[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}
