package miband

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/srg/bandctl/internal/device"
	"github.com/srg/bandctl/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type CommandsTestSuite struct {
	suite.Suite
	session *Session
	band    *testutils.FakeBand
	ctx     context.Context
}

func (s *CommandsTestSuite) SetupTest() {
	s.session, s.band = newTestSession(s.T())
	s.ctx = context.Background()
}

func (s *CommandsTestSuite) TestGetInfo() {
	info, err := s.session.GetInfo(s.ctx)
	s.Require().NoError(err)

	s.Equal(testMAC, info.Address)
	s.Equal("SN0001", info.Serial)
	s.Equal("V0.25.17.5", info.HardwareRevision)
	s.Equal("1.0.9.66", info.SoftwareRevision, "trailing NULs MUST be trimmed")
	s.Equal(80, info.Battery)
	s.True(testBandTime.Equal(info.Time))
}

func (s *CommandsTestSuite) TestBatteryUpdatesCache() {
	_, ok := s.session.LastBattery()
	s.False(ok)

	battery, err := s.session.GetBattery(s.ctx)
	s.Require().NoError(err)
	s.Equal(Battery{Level: 80, Charging: false}, battery)

	level, ok := s.session.LastBattery()
	s.True(ok)
	s.Equal(80, level)
}

func (s *CommandsTestSuite) TestMalformedBattery() {
	s.band.SetRead(CharBattery, []byte{15, 180, 0})
	_, err := s.session.GetBattery(s.ctx)
	s.ErrorIs(err, ErrMalformedPayload)
	s.Equal(Authenticated, s.session.State(), "a malformed payload MUST NOT drop the link")
}

func (s *CommandsTestSuite) TestGetSteps() {
	steps, err := s.session.GetSteps(s.ctx)
	s.Require().NoError(err)
	s.Equal(10000, steps.Steps)
	s.Equal(100, steps.Meters)
	s.Equal(42, steps.Calories)
}

func (s *CommandsTestSuite) TestGetCurrentTime() {
	t, err := s.session.GetCurrentTime(s.ctx)
	s.Require().NoError(err)
	s.True(testBandTime.Equal(t))
	_, offset := t.Zone()
	s.Equal(7200, offset, "timezone quarter hours MUST be decoded")
}

func (s *CommandsTestSuite) TestSetTime() {
	t := time.Date(2024, time.January, 7, 23, 59, 30, 0, time.UTC)
	s.Require().NoError(s.session.SetTime(s.ctx, t))

	writes := s.band.Writes(CharCurrentTime)
	s.Require().Len(writes, 1)
	s.Equal([]byte{0xe8, 0x07, 1, 7, 23, 59, 30, 7, 0, 0, 0}, writes[0], "Sunday MUST be encoded as ISO weekday 7")

	s.ErrorIs(s.session.SetTime(s.ctx, time.Time{}), ErrInvalidArgument)
}

func (s *CommandsTestSuite) TestSendAlert() {
	// GOAL: Verify alert types map to the band's alert codes and the payload layout
	//
	// TEST SCENARIO: Send one alert per type → check the first byte and text of each write

	for typ, code := range map[AlertType]byte{AlertMail: 1, AlertMessage: 5, AlertMissedCall: 4, AlertCall: 3} {
		s.Require().NoError(s.session.SendAlert(s.ctx, typ, "Title", "Body"))
		writes := s.band.Writes(CharAlert)
		last := writes[len(writes)-1]
		s.Equal(code, last[0], "alert %s MUST use code %d", typ, code)
		s.Contains(string(last), "Title")
		s.Contains(string(last), "Body")
	}

	s.ErrorIs(s.session.SendAlert(s.ctx, AlertType(42), "t", "m"), ErrInvalidArgument)
	s.Len(s.band.Writes(CharAlert), 4, "an invalid type MUST NOT reach the band")
}

func (s *CommandsTestSuite) TestSendMessage() {
	s.Require().NoError(s.session.SendMessage(s.ctx, "hello"))
	writes := s.band.Writes(CharAlert)
	s.Require().Len(writes, 1)
	s.Equal(customAlertCode, writes[0][0])
	s.Contains(string(writes[0]), "bandctl")
	s.Contains(string(writes[0]), "hello")

	s.ErrorIs(s.session.SendMessage(s.ctx, "  "), ErrInvalidArgument)
}

func (s *CommandsTestSuite) TestManualHeartRate() {
	s.band.OnWrite(CharHeartRateControl, func(data []byte) {
		if string(data) == string(hrStartManual) {
			s.band.Push(CharHeartRateMeasure, []byte{0x00, 68})
		}
	})

	bpm, err := s.session.GetHeartRate(s.ctx)
	s.Require().NoError(err)
	s.Equal(68, bpm)

	pulse, err := s.session.Pulse(s.ctx)
	s.Require().NoError(err)
	s.Equal(68, pulse, "a measurement MUST update the pulse cache")

	writes := s.band.Writes(CharHeartRateControl)
	s.Equal([][]byte{hrStopManual, hrStopContinuous, hrStartManual, hrStopManual}, writes)
}

func (s *CommandsTestSuite) TestHeartRateTimeout() {
	_, err := s.session.GetHeartRate(s.ctx)
	s.ErrorIs(err, ErrTimeout)
	s.Equal(Authenticated, s.session.State(), "a timeout MUST NOT drop the link")
	s.Zero(s.session.router.Pending())
}

func (s *CommandsTestSuite) TestHeartRateUsesRunningStream() {
	stream, err := s.session.StartHeartRateStream(s.ctx, nil)
	s.Require().NoError(err)
	defer stream.Stop()

	go func() {
		s.Eventually(func() bool { return s.session.router.Pending() == 1 }, time.Second, time.Millisecond)
		s.band.Push(CharHeartRateMeasure, []byte{0x00, 90})
	}()

	bpm, err := s.session.GetHeartRate(s.ctx)
	s.Require().NoError(err)
	s.Equal(90, bpm)
	for _, w := range s.band.Writes(CharHeartRateControl) {
		s.NotEqual(hrStartManual, w, "no manual measurement MUST start while streaming")
	}
}

func (s *CommandsTestSuite) TestPulseWithoutReading() {
	_, err := s.session.Pulse(s.ctx)
	s.ErrorIs(err, ErrNoReading)
}

func (s *CommandsTestSuite) TestSetTrackChunks() {
	track := Track{Artist: "Artist", Album: "Album", Title: "A fairly long song title", Playing: true, Volume: 40}
	s.Require().NoError(s.session.SetTrack(s.ctx, track))

	frames := s.band.Writes(CharChunkedTransfer)
	s.Equal(encodeChunks(chunkTypeMusic, encodeTrack(track)), frames)
	s.Greater(len(frames), 1)
}

func (s *CommandsTestSuite) TestReadTimeoutKeepsLink() {
	s.band.SetReadError(CharSteps, fmt.Errorf("read characteristic: %w", device.ErrTimeout))
	_, err := s.session.GetSteps(s.ctx)
	s.ErrorIs(err, ErrTimeout)
	s.Equal(Authenticated, s.session.State())
}

func TestCommandsTestSuite(t *testing.T) {
	suite.Run(t, new(CommandsTestSuite))
}
