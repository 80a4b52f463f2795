package miband

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/bandctl/internal/device"
)

// Category is the event category a notification is routed by. It doubles as
// the correlation key of pending requests.
type Category uint8

const (
	CategoryUnknown Category = iota
	CategoryAuth
	CategoryHeartRate
	CategoryDeviceLost
	CategoryDeviceFound
	CategoryMusic
	CategoryActivityData
	CategoryActivityControl
	CategoryFirmware
	CategoryBattery
	CategorySteps
	CategoryDeviceEvent
)

var categoryNames = map[Category]string{
	CategoryUnknown:         "unknown",
	CategoryAuth:            "auth",
	CategoryHeartRate:       "heart_rate",
	CategoryDeviceLost:      "device_lost",
	CategoryDeviceFound:     "device_found",
	CategoryMusic:           "music",
	CategoryActivityData:    "activity_data",
	CategoryActivityControl: "activity_control",
	CategoryFirmware:        "firmware",
	CategoryBattery:         "battery",
	CategorySteps:           "steps",
	CategoryDeviceEvent:     "device_event",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// Classify tags a notification with its event category.
func Classify(n device.Notification) Category {
	switch n.Char {
	case CharAuth:
		return CategoryAuth
	case CharHeartRateMeasure:
		return CategoryHeartRate
	case CharActivityData:
		return CategoryActivityData
	case CharFetch:
		return CategoryActivityControl
	case CharDFUControl:
		return CategoryFirmware
	case CharBattery:
		return CategoryBattery
	case CharSteps:
		return CategorySteps
	case CharDeviceEvent:
		if len(n.Data) == 0 {
			return CategoryDeviceEvent
		}
		switch n.Data[0] {
		case eventFindStarted:
			return CategoryDeviceLost
		case eventFindStopped:
			return CategoryDeviceFound
		case eventMusic:
			return CategoryMusic
		}
		return CategoryDeviceEvent
	}
	return CategoryUnknown
}

// Handler receives notification payloads for one category. It runs on the
// notification pump and must return promptly without calling the transport.
type Handler func(payload []byte)

// Route is the outcome of dispatching one notification.
type Route int

const (
	RouteDropped Route = iota
	RoutePending
	RouteHandler
)

// Router demultiplexes notifications to pending requests or registered handlers.
type Router struct {
	logger   *logrus.Logger
	handlers *hashmap.Map[Category, Handler]

	mu      sync.Mutex
	pending map[Category]*PendingRequest
}

// NewRouter creates an empty router.
func NewRouter(logger *logrus.Logger) *Router {
	if logger == nil {
		logger = logrus.New()
	}
	return &Router{
		logger:   logger,
		handlers: hashmap.New[Category, Handler](),
		pending:  make(map[Category]*PendingRequest),
	}
}

// Register installs h for cat, replacing any previous handler.
func (r *Router) Register(cat Category, h Handler) {
	r.handlers.Set(cat, h)
}

// Unregister removes the handler for cat.
func (r *Router) Unregister(cat Category) {
	r.handlers.Del(cat)
}

// HasHandler reports whether a handler is registered for cat.
func (r *Router) HasHandler(cat Category) bool {
	_, ok := r.handlers.Get(cat)
	return ok
}

// Expect creates a pending request for cat expiring after timeout. An existing
// request for the same key is superseded and fails with ErrSuperseded.
func (r *Router) Expect(cat Category, timeout time.Duration) *PendingRequest {
	p := &PendingRequest{
		key:      cat,
		deadline: time.Now().Add(timeout),
		result:   make(chan pendingResult, 1),
		router:   r,
	}

	r.mu.Lock()
	prev := r.pending[cat]
	r.pending[cat] = p
	r.mu.Unlock()

	if prev != nil {
		r.logger.WithField("category", cat).Debug("Superseding pending request")
		prev.resolve(pendingResult{err: newError(KindSuperseded, cat.String(), "superseded by a newer request", nil)})
	}
	return p
}

// Dispatch routes one notification. A pending request takes the payload
// exclusively; otherwise the registered handler runs; otherwise it is dropped.
func (r *Router) Dispatch(n device.Notification) Route {
	cat := Classify(n)

	r.mu.Lock()
	p := r.pending[cat]
	if p != nil {
		delete(r.pending, cat)
	}
	r.mu.Unlock()

	if p != nil {
		p.resolve(pendingResult{payload: n.Data})
		return RoutePending
	}

	if h, ok := r.handlers.Get(cat); ok && h != nil {
		h(n.Data)
		return RouteHandler
	}

	r.logger.WithFields(logrus.Fields{
		"category": cat,
		"char":     device.ShortenUUID(n.Char),
		"payload":  fmt.Sprintf("% x", n.Data),
	}).Debug("Dropping unrouted notification")
	return RouteDropped
}

// FailAll resolves every pending request with err.
func (r *Router) FailAll(err error) {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[Category]*PendingRequest)
	r.mu.Unlock()

	for _, p := range pending {
		p.resolve(pendingResult{err: err})
	}
}

// Pending reports how many requests are outstanding.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Router) forget(p *PendingRequest) {
	r.mu.Lock()
	if r.pending[p.key] == p {
		delete(r.pending, p.key)
	}
	r.mu.Unlock()
}

type pendingResult struct {
	payload []byte
	err     error
}

// PendingRequest is one in-flight request awaiting a correlated notification.
type PendingRequest struct {
	key      Category
	deadline time.Time
	result   chan pendingResult
	once     sync.Once
	router   *Router
}

// Key returns the correlation key.
func (p *PendingRequest) Key() Category {
	return p.key
}

func (p *PendingRequest) resolve(res pendingResult) {
	p.once.Do(func() {
		p.result <- res
	})
}

// Await blocks until the request is resolved, its deadline passes or ctx ends.
// The request is removed from the router in every case.
func (p *PendingRequest) Await(ctx context.Context) ([]byte, error) {
	defer p.router.forget(p)

	timer := time.NewTimer(time.Until(p.deadline))
	defer timer.Stop()

	select {
	case res := <-p.result:
		return res.payload, res.err
	case <-timer.C:
		return nil, newError(KindTimeout, p.key.String(), "no reply before deadline", nil)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel withdraws the request without waiting.
func (p *PendingRequest) Cancel() {
	p.router.forget(p)
	p.resolve(pendingResult{err: context.Canceled})
}
