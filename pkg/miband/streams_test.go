package miband

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/srg/bandctl/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type StreamsTestSuite struct {
	suite.Suite
	session *Session
	band    *testutils.FakeBand
	ctx     context.Context
}

func (s *StreamsTestSuite) SetupTest() {
	s.session, s.band = newTestSession(s.T())
	s.ctx = context.Background()
	s.Require().NoError(s.session.Connect(s.ctx))
}

func (s *StreamsTestSuite) hrControlWrites() [][]byte {
	return s.band.Writes(CharHeartRateControl)
}

func (s *StreamsTestSuite) TestHeartRateStreamDeliversSamplesInOrder() {
	// GOAL: Every streamed BPM sample MUST reach the callback exactly once and in order
	//
	// TEST SCENARIO: Start stream → push 72, 75, 74 → check callback values → stop → check stop command

	var samples recorder[int]
	stream, err := s.session.StartHeartRateStream(s.ctx, samples.add)
	s.Require().NoError(err)

	writes := s.hrControlWrites()
	s.Require().Len(writes, 3)
	s.Equal([][]byte{hrStopManual, hrStopContinuous, hrStartContinuous}, writes)

	for _, bpm := range []byte{72, 75, 74} {
		s.Require().True(s.band.Push(CharHeartRateMeasure, []byte{0x00, bpm}))
	}
	s.Eventually(func() bool { return samples.len() == 3 }, time.Second, time.Millisecond)
	s.Equal([]int{72, 75, 74}, samples.get())

	pulse, err := s.session.Pulse(s.ctx)
	s.Require().NoError(err)
	s.Equal(74, pulse)

	s.Eventually(func() bool {
		for _, w := range s.hrControlWrites() {
			if string(w) == string(hrPing) {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond, "the stream MUST ping the band periodically")

	stream.Stop()
	s.NoError(stream.Err())
	s.False(s.session.router.HasHandler(CategoryHeartRate))

	writes = s.hrControlWrites()
	s.Equal(hrStopContinuous, writes[len(writes)-1], "stopping MUST stop continuous measurement")

	s.Require().True(s.band.Push(CharHeartRateMeasure, []byte{0x00, 99}))
	time.Sleep(20 * time.Millisecond)
	s.Equal(3, samples.len(), "no samples MUST arrive after stop")
}

func (s *StreamsTestSuite) TestNewerHeartRateStreamSupersedes() {
	var first, second recorder[int]
	old, err := s.session.StartHeartRateStream(s.ctx, first.add)
	s.Require().NoError(err)
	current, err := s.session.StartHeartRateStream(s.ctx, second.add)
	s.Require().NoError(err)
	defer current.Stop()

	s.ErrorIs(old.Wait(), ErrSuperseded)

	s.Require().True(s.band.Push(CharHeartRateMeasure, []byte{0x00, 80}))
	s.Eventually(func() bool { return second.len() == 1 }, time.Second, time.Millisecond)
	s.Zero(first.len())
	s.True(s.session.router.HasHandler(CategoryHeartRate), "the superseded stream MUST NOT unregister the new handler")
}

func (s *StreamsTestSuite) TestStreamEndsOnContextCancel() {
	ctx, cancel := context.WithCancel(s.ctx)
	stream, err := s.session.StartHeartRateStream(ctx, nil)
	s.Require().NoError(err)

	cancel()
	s.ErrorIs(stream.Wait(), context.Canceled)
	s.False(s.session.router.HasHandler(CategoryHeartRate))
}

func (s *StreamsTestSuite) TestStreamEndsOnLinkLoss() {
	stream, err := s.session.StartHeartRateStream(s.ctx, nil)
	s.Require().NoError(err)

	s.band.DropLink()
	select {
	case <-stream.Done():
	case <-time.After(time.Second):
		s.FailNow("stream MUST end when the link drops")
	}
	s.ErrorIs(stream.Err(), ErrDisconnected)
}

func (s *StreamsTestSuite) TestDeviceSearch() {
	var mu sync.Mutex
	var events []string
	record := func(e string) func() {
		return func() {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		}
	}

	stream, err := s.session.StartDeviceSearch(s.ctx, record("lost"), record("found"))
	s.Require().NoError(err)
	s.True(s.band.Subscribed(CharDeviceEvent))

	s.Require().True(s.band.Push(CharDeviceEvent, []byte{eventFindStarted}))
	s.Require().True(s.band.Push(CharDeviceEvent, []byte{eventFindStopped}))

	select {
	case <-stream.Done():
	case <-time.After(time.Second):
		s.FailNow("search MUST end once the device is found")
	}
	s.NoError(stream.Err())

	mu.Lock()
	defer mu.Unlock()
	s.Equal([]string{"lost", "found"}, events)
}

func (s *StreamsTestSuite) TestMusicControl() {
	// GOAL: Music button presses reach the handler and focus-in re-sends the current track
	//
	// TEST SCENARIO: Set track → start stream → focus-in, play, next → handler sees all three → track frames written twice

	track := Track{Artist: "Band", Title: "Song", Playing: true, Volume: 50}
	s.Require().NoError(s.session.SetTrack(s.ctx, track))
	framesPerTrack := len(s.band.Writes(CharChunkedTransfer))

	var commands recorder[MusicCommand]
	stream, err := s.session.StartMusicControl(s.ctx, commands.add)
	s.Require().NoError(err)
	defer stream.Stop()

	for _, cmd := range []MusicCommand{MusicFocusIn, MusicPlay, MusicNext} {
		s.Require().True(s.band.Push(CharDeviceEvent, []byte{eventMusic, byte(cmd)}))
	}
	s.Eventually(func() bool { return commands.len() == 3 }, time.Second, time.Millisecond)
	s.Equal([]MusicCommand{MusicFocusIn, MusicPlay, MusicNext}, commands.get())
	s.Len(s.band.Writes(CharChunkedTransfer), 2*framesPerTrack, "focus-in MUST push the last track")
}

func (s *StreamsTestSuite) TestMusicHandlerMayCallSession() {
	done := make(chan error, 1)
	stream, err := s.session.StartMusicControl(s.ctx, func(cmd MusicCommand) {
		if cmd == MusicPause {
			done <- s.session.SetTrack(s.ctx, Track{Title: "Paused"})
		}
	})
	s.Require().NoError(err)
	defer stream.Stop()

	s.Require().True(s.band.Push(CharDeviceEvent, []byte{eventMusic, byte(MusicPause)}))
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(time.Second):
		s.FailNow("handler MUST be able to call back into the session")
	}
}

func fetchStartReply(first time.Time) []byte {
	b := []byte{0x10, 0x01, 0x01, 0, 0, 0, 0}
	year := make([]byte, 2)
	binary.LittleEndian.PutUint16(year, uint16(first.Year()))
	b = append(b, year...)
	return append(b, byte(first.Month()), byte(first.Day()), byte(first.Hour()), byte(first.Minute()))
}

func activityPacket(counter byte, steps ...byte) []byte {
	b := []byte{counter}
	for _, st := range steps {
		b = append(b, 1, 10, st, 70)
	}
	return b
}

func (s *StreamsTestSuite) TestActivityLogSpansBatches() {
	// GOAL: Records in [start, end) MUST all be delivered, re-triggering after each batch
	//
	// TEST SCENARIO: Band starts at 09:58 → first batch ends at 10:03 → second trigger at 10:04 → batch
	//                ends at 10:07 → exactly 10:00..10:05 delivered

	start := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(6 * time.Minute)

	var batch int
	var firstTs time.Time
	s.band.OnWrite(CharFetch, func(data []byte) {
		switch data[0] {
		case 0x01:
			batch++
			if batch == 1 {
				firstTs = start.Add(-2 * time.Minute)
			} else {
				firstTs = time.Date(int(binary.LittleEndian.Uint16(data[2:4])), time.Month(data[4]), int(data[5]), int(data[6]), int(data[7]), 0, 0, time.UTC)
			}
			s.band.Push(CharFetch, fetchStartReply(firstTs))
		case 0x02:
			if batch == 1 {
				s.band.Push(CharActivityData, activityPacket(0, 1, 2, 3, 4))
				s.band.Push(CharActivityData, activityPacket(1, 5, 6))
			} else {
				s.band.Push(CharActivityData, activityPacket(0, 7, 8, 9, 10))
			}
			s.band.Push(CharFetch, fetchBatchEnd)
		}
	})

	var entries []ActivityEntry
	err := s.session.GetActivityLog(s.ctx, start, end, func(e ActivityEntry) {
		entries = append(entries, e)
	})
	s.Require().NoError(err)

	s.Require().Len(entries, 6)
	for i, e := range entries {
		s.True(start.Add(time.Duration(i)*time.Minute).Equal(e.Timestamp), "entry %d at %s", i, e.Timestamp)
	}
	s.Equal([]int{3, 4, 5, 6, 7, 8}, stepsOf(entries))

	triggers := 0
	for _, w := range s.band.Writes(CharFetch) {
		if w[0] == 0x01 {
			triggers++
		}
	}
	s.Equal(2, triggers)
	s.Equal(time.Date(2024, time.March, 1, 10, 4, 0, 0, time.UTC), firstTs, "the second batch MUST start one minute after the last record")
	s.False(s.session.router.HasHandler(CategoryActivityData))
}

func (s *StreamsTestSuite) TestActivityLogShortPackets() {
	// GOAL: Record timestamps MUST follow the number of records received, whatever the packet sizes
	//
	// TEST SCENARIO: Band starts at 10:00 → packets of 2, 3 and 1 records → six consecutive minutes

	start := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(6 * time.Minute)

	s.band.OnWrite(CharFetch, func(data []byte) {
		switch data[0] {
		case 0x01:
			s.band.Push(CharFetch, fetchStartReply(start))
		case 0x02:
			s.band.Push(CharActivityData, activityPacket(0, 1, 2))
			s.band.Push(CharActivityData, activityPacket(1, 3, 4, 5))
			s.band.Push(CharActivityData, activityPacket(2, 6))
			s.band.Push(CharFetch, fetchBatchEnd)
		}
	})

	var entries []ActivityEntry
	err := s.session.GetActivityLog(s.ctx, start, end, func(e ActivityEntry) {
		entries = append(entries, e)
	})
	s.Require().NoError(err)

	s.Require().Len(entries, 6)
	for i, e := range entries {
		s.True(start.Add(time.Duration(i)*time.Minute).Equal(e.Timestamp), "entry %d at %s", i, e.Timestamp)
	}
	s.Equal([]int{1, 2, 3, 4, 5, 6}, stepsOf(entries))
}

func stepsOf(entries []ActivityEntry) []int {
	out := make([]int, len(entries))
	for i, e := range entries {
		out[i] = e.Steps
	}
	return out
}

func (s *StreamsTestSuite) TestActivityLogNoMoreData() {
	s.band.OnWrite(CharFetch, func(data []byte) {
		if data[0] == 0x01 {
			s.band.Push(CharFetch, fetchNoMore)
		}
	})

	called := false
	start := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	err := s.session.GetActivityLog(s.ctx, start, start.Add(time.Hour), func(ActivityEntry) { called = true })
	s.NoError(err)
	s.False(called)
}

func (s *StreamsTestSuite) TestActivityLogCancel() {
	ctx, cancel := context.WithCancel(s.ctx)
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	err := s.session.GetActivityLog(ctx, start, start.Add(time.Hour), func(ActivityEntry) {})
	s.ErrorIs(err, context.Canceled)
	s.Equal(Authenticated, s.session.State())
}

func (s *StreamsTestSuite) TestActivityLogIdleTimeout() {
	start := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	err := s.session.GetActivityLog(s.ctx, start, start.Add(time.Hour), func(ActivityEntry) {})
	s.ErrorIs(err, ErrTimeout)
}

func (s *StreamsTestSuite) TestActivityLogValidation() {
	start := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	s.ErrorIs(s.session.GetActivityLog(s.ctx, start, start, func(ActivityEntry) {}), ErrInvalidArgument)
	s.ErrorIs(s.session.GetActivityLog(s.ctx, start, start.Add(time.Hour), nil), ErrInvalidArgument)
}

func TestStreamsTestSuite(t *testing.T) {
	suite.Run(t, new(StreamsTestSuite))
}
