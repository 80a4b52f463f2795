package miband

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/srg/bandctl/internal/device"
	"github.com/srg/bandctl/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type RouterTestSuite struct {
	suite.Suite
	router *Router
}

func (s *RouterTestSuite) SetupTest() {
	s.router = NewRouter(testutils.NewTestHelper(s.T()).Logger)
}

func hrNotification(bpm byte) device.Notification {
	return device.Notification{Char: CharHeartRateMeasure, Data: []byte{0x00, bpm}}
}

func (s *RouterTestSuite) TestClassify() {
	cases := map[Category]device.Notification{
		CategoryAuth:            {Char: CharAuth, Data: []byte{0x10, 0x01, 0x01}},
		CategoryHeartRate:       hrNotification(70),
		CategoryDeviceLost:      {Char: CharDeviceEvent, Data: []byte{0x08}},
		CategoryDeviceFound:     {Char: CharDeviceEvent, Data: []byte{0x0f}},
		CategoryMusic:           {Char: CharDeviceEvent, Data: []byte{0xfe, 0x00}},
		CategoryDeviceEvent:     {Char: CharDeviceEvent, Data: []byte{0x04}},
		CategoryActivityData:    {Char: CharActivityData, Data: []byte{0}},
		CategoryActivityControl: {Char: CharFetch, Data: []byte{0x10}},
		CategoryFirmware:        {Char: CharDFUControl, Data: []byte{0x10}},
		CategoryUnknown:         {Char: "ffff", Data: []byte{1}},
	}
	for want, n := range cases {
		s.Equal(want, Classify(n), "notification %s % x", n.Char, n.Data)
	}
}

func (s *RouterTestSuite) TestPendingRequestIsExclusive() {
	// GOAL: A notification resolving a pending request MUST NOT also reach the handler
	//
	// TEST SCENARIO: Register handler → expect heart rate → dispatch one sample → only the pending request sees it → next sample reaches handler

	var handled []byte
	s.router.Register(CategoryHeartRate, func(p []byte) { handled = append(handled, p[1]) })

	p := s.router.Expect(CategoryHeartRate, time.Second)
	s.Equal(RoutePending, s.router.Dispatch(hrNotification(72)))

	payload, err := p.Await(context.Background())
	s.Require().NoError(err)
	s.Equal([]byte{0x00, 72}, payload)
	s.Empty(handled, "handler MUST NOT be invoked for a payload that resolved a pending request")

	s.Equal(RouteHandler, s.router.Dispatch(hrNotification(75)))
	s.Equal([]byte{75}, handled)
	s.Zero(s.router.Pending())
}

func (s *RouterTestSuite) TestRegisterReplaces() {
	var first, second int
	s.router.Register(CategoryDeviceLost, func([]byte) { first++ })
	s.router.Register(CategoryDeviceLost, func([]byte) { second++ })

	s.router.Dispatch(device.Notification{Char: CharDeviceEvent, Data: []byte{0x08}})
	s.Zero(first, "replaced handler MUST NOT run")
	s.Equal(1, second)

	s.router.Unregister(CategoryDeviceLost)
	s.False(s.router.HasHandler(CategoryDeviceLost))
	s.Equal(RouteDropped, s.router.Dispatch(device.Notification{Char: CharDeviceEvent, Data: []byte{0x08}}))
}

func (s *RouterTestSuite) TestCategoriesAreIndependent() {
	var lost, found int
	s.router.Register(CategoryDeviceLost, func([]byte) { lost++ })
	s.router.Register(CategoryDeviceFound, func([]byte) { found++ })

	s.router.Dispatch(device.Notification{Char: CharDeviceEvent, Data: []byte{0x0f}})
	s.Zero(lost)
	s.Equal(1, found)
}

func (s *RouterTestSuite) TestSupersede() {
	old := s.router.Expect(CategoryAuth, time.Second)
	fresh := s.router.Expect(CategoryAuth, time.Second)

	_, err := old.Await(context.Background())
	s.ErrorIs(err, ErrSuperseded)

	s.router.Dispatch(device.Notification{Char: CharAuth, Data: []byte{0x10, 0x03, 0x01}})
	payload, err := fresh.Await(context.Background())
	s.NoError(err)
	s.Equal([]byte{0x10, 0x03, 0x01}, payload)
}

func (s *RouterTestSuite) TestAwaitTimeoutAndCancel() {
	p := s.router.Expect(CategoryBattery, 20*time.Millisecond)
	_, err := p.Await(context.Background())
	s.ErrorIs(err, ErrTimeout)
	s.Zero(s.router.Pending(), "timed out request MUST be destroyed")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.router.Expect(CategoryBattery, time.Second).Await(ctx)
	s.ErrorIs(err, context.Canceled)
	s.Zero(s.router.Pending())
}

func (s *RouterTestSuite) TestFailAll() {
	a := s.router.Expect(CategoryAuth, time.Second)
	b := s.router.Expect(CategoryFirmware, time.Second)

	s.router.FailAll(newError(KindDisconnected, "session", "link lost", nil))

	for _, p := range []*PendingRequest{a, b} {
		_, err := p.Await(context.Background())
		s.ErrorIs(err, ErrDisconnected)
	}
}

func TestRouterTestSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}

func TestRouter_ConcurrentDispatch(t *testing.T) {
	router := NewRouter(nil)
	var mu sync.Mutex
	count := 0
	router.Register(CategoryHeartRate, func([]byte) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				router.Dispatch(hrNotification(60))
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 400, count)
	assert.Zero(t, router.Pending())
}
