package miband

import (
	"context"
	"fmt"
	"strings"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Command names used by the access policy.
const (
	OpInfo           = "info"
	OpBattery        = "battery"
	OpSteps          = "steps"
	OpCurrentTime    = "current_time"
	OpSetTime        = "set_time"
	OpSendAlert      = "send_alert"
	OpSendMessage    = "send_message"
	OpHeartRate      = "heart_rate"
	OpDeviceSearch   = "device_search"
	OpMusic          = "music"
	OpActivityLog    = "activity_log"
	OpFirmwareUpdate = "firmware_update"
	OpPulse          = "pulse"
)

// Access is the minimum session state a command needs.
type Access int

const (
	Unauthenticated Access = iota
	AuthenticatedOnly
)

func (a Access) String() string {
	if a == Unauthenticated {
		return "unauthenticated"
	}
	return "authenticated"
}

// ParseAccess parses "unauthenticated" or "authenticated".
func ParseAccess(s string) (Access, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unauthenticated", "none", "open":
		return Unauthenticated, nil
	case "authenticated", "auth":
		return AuthenticatedOnly, nil
	}
	return 0, invalidArgument("access", "unknown access level %q", s)
}

// AccessPolicy classifies commands as authenticated-only or not, in a stable order.
type AccessPolicy struct {
	table *orderedmap.OrderedMap[string, Access]
}

// DefaultAccessPolicy returns the built-in classification.
func DefaultAccessPolicy() *AccessPolicy {
	p := &AccessPolicy{table: orderedmap.New[string, Access]()}
	p.Set(OpInfo, Unauthenticated)
	p.Set(OpBattery, Unauthenticated)
	p.Set(OpCurrentTime, Unauthenticated)
	p.Set(OpPulse, Unauthenticated)
	p.Set(OpDeviceSearch, Unauthenticated)
	p.Set(OpSteps, AuthenticatedOnly)
	p.Set(OpSetTime, AuthenticatedOnly)
	p.Set(OpSendAlert, AuthenticatedOnly)
	p.Set(OpSendMessage, AuthenticatedOnly)
	p.Set(OpHeartRate, AuthenticatedOnly)
	p.Set(OpMusic, AuthenticatedOnly)
	p.Set(OpActivityLog, AuthenticatedOnly)
	p.Set(OpFirmwareUpdate, AuthenticatedOnly)
	return p
}

// Set classifies cmd.
func (p *AccessPolicy) Set(cmd string, a Access) {
	p.table.Set(cmd, a)
}

// Lookup returns the classification of cmd. Unknown commands need authentication.
func (p *AccessPolicy) Lookup(cmd string) Access {
	if a, ok := p.table.Get(cmd); ok {
		return a
	}
	return AuthenticatedOnly
}

// Each calls fn for every command in insertion order.
func (p *AccessPolicy) Each(fn func(cmd string, a Access)) {
	for pair := p.table.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

// DeviceInfo is the combined result of the device information reads.
type DeviceInfo struct {
	Address          string    `json:"address"`
	Serial           string    `json:"serial"`
	HardwareRevision string    `json:"hardware_revision"`
	SoftwareRevision string    `json:"software_revision"`
	Battery          int       `json:"battery"`
	Time             time.Time `json:"time"`
}

// GetInfo reads revisions, serial number, battery level and the band clock.
func (s *Session) GetInfo(ctx context.Context) (DeviceInfo, error) {
	info := DeviceInfo{Address: s.creds.Address}
	err := s.exec(ctx, OpInfo, func(ctx context.Context) error {
		for _, f := range []struct {
			char string
			dst  *string
		}{
			{CharSerialNumber, &info.Serial},
			{CharHardwareRevision, &info.HardwareRevision},
			{CharSoftwareRevision, &info.SoftwareRevision},
		} {
			b, err := s.read(OpInfo, f.char)
			if err != nil {
				return err
			}
			*f.dst = strings.TrimRight(string(b), "\x00")
		}

		battery, err := s.readBattery(OpInfo)
		if err != nil {
			return err
		}
		info.Battery = battery.Level

		b, err := s.read(OpInfo, CharCurrentTime)
		if err != nil {
			return err
		}
		info.Time, err = decodeTime(b)
		return err
	})
	return info, err
}

func (s *Session) readBattery(op string) (Battery, error) {
	b, err := s.read(op, CharBattery)
	if err != nil {
		return Battery{}, err
	}
	battery, err := decodeBattery(b)
	if err != nil {
		return Battery{}, err
	}
	s.battery.Store(int32(battery.Level))
	return battery, nil
}

// GetBattery reads the battery level and charging flag.
func (s *Session) GetBattery(ctx context.Context) (Battery, error) {
	var battery Battery
	err := s.exec(ctx, OpBattery, func(context.Context) error {
		var err error
		battery, err = s.readBattery(OpBattery)
		return err
	})
	return battery, err
}

// LastBattery returns the last battery level read, if any.
func (s *Session) LastBattery() (int, bool) {
	v := s.battery.Load()
	return int(v), v != noReading
}

// GetSteps reads today's activity counters.
func (s *Session) GetSteps(ctx context.Context) (Steps, error) {
	var steps Steps
	err := s.exec(ctx, OpSteps, func(context.Context) error {
		b, err := s.read(OpSteps, CharSteps)
		if err != nil {
			return err
		}
		steps = decodeSteps(b)
		return nil
	})
	return steps, err
}

// GetCurrentTime reads the band clock.
func (s *Session) GetCurrentTime(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := s.exec(ctx, OpCurrentTime, func(context.Context) error {
		b, err := s.read(OpCurrentTime, CharCurrentTime)
		if err != nil {
			return err
		}
		t, err = decodeTime(b)
		return err
	})
	return t, err
}

// SetTime sets the band clock.
func (s *Session) SetTime(ctx context.Context, t time.Time) error {
	if s.freezed {
		return s.freezedError(OpSetTime)
	}
	if t.IsZero() {
		return invalidArgument(OpSetTime, "time is zero")
	}
	return s.exec(ctx, OpSetTime, func(context.Context) error {
		return s.write(OpSetTime, CharCurrentTime, encodeTime(t), true)
	})
}

// SendAlert shows a notification of the given type. Title and message length
// are not validated.
func (s *Session) SendAlert(ctx context.Context, typ AlertType, title, message string) error {
	if s.freezed {
		return s.freezedError(OpSendAlert)
	}
	code, err := AlertCode(typ)
	if err != nil {
		return err
	}
	return s.exec(ctx, OpSendAlert, func(context.Context) error {
		return s.write(OpSendAlert, CharAlert, encodeAlert(code, title, message), true)
	})
}

// SendMessage shows free-form text under the configured alert title.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	if s.freezed {
		return s.freezedError(OpSendMessage)
	}
	if strings.TrimSpace(text) == "" {
		return invalidArgument(OpSendMessage, "message is empty")
	}
	return s.exec(ctx, OpSendMessage, func(context.Context) error {
		return s.write(OpSendMessage, CharAlert, encodeAlert(customAlertCode, s.opts.AlertTitle, text), true)
	})
}

// GetHeartRate takes one heart rate measurement. With a heart rate stream
// running, the next streamed sample is returned instead of starting a manual
// measurement.
func (s *Session) GetHeartRate(ctx context.Context) (int, error) {
	var bpm int
	err := s.exec(ctx, OpHeartRate, func(ctx context.Context) error {
		var payload []byte
		var err error
		if s.router.HasHandler(CategoryHeartRate) {
			payload, err = s.router.Expect(CategoryHeartRate, s.opts.HeartRateTimeout).Await(ctx)
		} else {
			payload, err = s.manualHeartRate(ctx)
		}
		if err != nil {
			return err
		}
		if bpm, err = decodeHeartRate(payload); err != nil {
			return err
		}
		s.pulse.Store(int32(bpm))
		return nil
	})
	return bpm, err
}

func (s *Session) manualHeartRate(ctx context.Context) ([]byte, error) {
	if err := s.enable(OpHeartRate, CharHeartRateMeasure); err != nil {
		return nil, err
	}
	for _, cmd := range [][]byte{hrStopManual, hrStopContinuous} {
		if err := s.write(OpHeartRate, CharHeartRateControl, cmd, true); err != nil {
			return nil, err
		}
	}
	payload, err := s.request(ctx, OpHeartRate, CategoryHeartRate, CharHeartRateControl, hrStartManual, true, s.opts.HeartRateTimeout)
	if err != nil {
		return nil, err
	}
	if err := s.write(OpHeartRate, CharHeartRateControl, hrStopManual, true); err != nil {
		s.log().WithField("error", err).Debug("Failed to stop manual heart rate measurement")
	}
	return payload, nil
}

// Pulse returns the last heart rate sample received, connecting first if needed.
func (s *Session) Pulse(ctx context.Context) (int, error) {
	var bpm int
	err := s.exec(ctx, OpPulse, func(context.Context) error {
		v := s.pulse.Load()
		if v == noReading {
			return newError(KindNoReading, OpPulse, "no heart rate sample received yet", nil)
		}
		bpm = int(v)
		return nil
	})
	return bpm, err
}

// SetTrack pushes now-playing information to the band's music screen.
func (s *Session) SetTrack(ctx context.Context, t Track) error {
	s.streamsMu.Lock()
	s.track = &t
	s.streamsMu.Unlock()

	return s.exec(ctx, OpMusic, func(context.Context) error {
		return s.writeTrack(t)
	})
}

func (s *Session) writeTrack(t Track) error {
	for i, frame := range encodeChunks(chunkTypeMusic, encodeTrack(t)) {
		if err := s.write(OpMusic, CharChunkedTransfer, frame, false); err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
	}
	return nil
}
