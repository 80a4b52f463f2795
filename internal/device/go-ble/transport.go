package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bandctl/internal/device"
	"github.com/srg/bandctl/internal/groutine"
)

const (
	// DefaultQueueSize is the capacity of the inbound notification queue
	DefaultQueueSize = 256

	// DefaultReadTimeout bounds a single characteristic read
	DefaultReadTimeout = 5 * time.Second
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// BLETransport implements device.Transport on top of go-ble.
//
// Notifications from the BLE stack are copied into a bounded ring queue and
// handed to the listener one at a time by WaitForNotification, so the listener
// always runs on the caller's goroutine.
type BLETransport struct {
	logger      *logrus.Logger
	readTimeout time.Duration

	connMutex  sync.RWMutex
	writeMutex sync.Mutex
	client     ble.Client
	connected  bool
	chars      map[string]*ble.Characteristic
	subscribed map[string]struct{}
	cancel     context.CancelFunc

	listenerMu sync.RWMutex
	listener   device.Listener

	queue *device.RingChannel[device.Notification]
}

// NewBLETransport creates a disconnected transport.
func NewBLETransport(logger *logrus.Logger) *BLETransport {
	if logger == nil {
		logger = logrus.New()
	}
	return &BLETransport{
		logger:      logger,
		readTimeout: DefaultReadTimeout,
		chars:       make(map[string]*ble.Characteristic),
		subscribed:  make(map[string]struct{}),
		queue:       device.NewRingChannel[device.Notification](DefaultQueueSize),
	}
}

// SetReadTimeout overrides DefaultReadTimeout.
func (t *BLETransport) SetReadTimeout(d time.Duration) {
	if d > 0 {
		t.readTimeout = d
	}
}

// Connect dials the peripheral and discovers its GATT profile.
func (t *BLETransport) Connect(ctx context.Context, address string, timeout time.Duration) error {
	t.connMutex.Lock()
	defer t.connMutex.Unlock()

	if strings.TrimSpace(address) == "" {
		return fmt.Errorf("device address is empty")
	}
	if t.connected {
		return device.ErrAlreadyConnected
	}

	t.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": timeout,
	}).Info("Connecting to BLE device...")

	dev, err := DeviceFactory()
	if err != nil {
		return fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	ble.SetDefaultDevice(dev)

	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := ble.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Warn("Failed to dial BLE device")
		// A dial that never completes is a link failure from the caller's perspective.
		return fmt.Errorf("failed to connect to device with address %q: %w: %v", address, device.ErrNotConnected, err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			t.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	chars := make(map[string]*ble.Characteristic)
	for _, svc := range profile.Services {
		for _, c := range svc.Characteristics {
			chars[device.NormalizeUUID(c.UUID.String())] = c
		}
	}

	t.client = client
	t.chars = chars
	t.subscribed = make(map[string]struct{})
	t.connected = true
	t.queue.Drain()

	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	t.cancel = monitorCancel
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(monitorCtx, "ble-connection-monitor", func(ctx context.Context) {
			select {
			case <-dc.Disconnected():
				t.logger.WithField("address", address).Warn("BLE stack reported disconnection")
				t.markDisconnected()
			case <-ctx.Done():
			}
		})
	}

	t.logger.WithFields(logrus.Fields{
		"address":         address,
		"services":        len(profile.Services),
		"characteristics": len(chars),
	}).Info("BLE device connected successfully")
	return nil
}

// markDisconnected flips the link state without talking to the peripheral.
func (t *BLETransport) markDisconnected() {
	t.connMutex.Lock()
	t.connected = false
	t.connMutex.Unlock()
}

// Disconnect unsubscribes from all notifications and closes the link. Calling it
// on a disconnected transport is a no-op.
func (t *BLETransport) Disconnect() error {
	t.connMutex.Lock()
	client := t.client
	if client == nil {
		t.connMutex.Unlock()
		t.logger.Debug("Disconnect called but already disconnected")
		return nil
	}
	subscribed := make([]*ble.Characteristic, 0, len(t.subscribed))
	for key := range t.subscribed {
		if c, ok := t.chars[key]; ok {
			subscribed = append(subscribed, c)
		}
	}
	cancel := t.cancel

	t.client = nil
	t.cancel = nil
	t.connected = false
	t.subscribed = make(map[string]struct{})
	t.connMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	for _, c := range subscribed {
		if err := NormalizeError(client.Unsubscribe(c, false)); err != nil {
			t.logger.WithFields(logrus.Fields{
				"char_uuid": device.NormalizeUUID(c.UUID.String()),
				"error":     err,
			}).Debug("Failed to unsubscribe from characteristic notifications")
		}
	}

	if dropped := t.queue.Drain(); dropped > 0 {
		t.logger.WithField("dropped", dropped).Debug("Discarded queued notifications on disconnect")
	}

	err := client.CancelConnection()
	if err != nil {
		t.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return NormalizeError(err)
	}
	t.logger.Info("BLE device disconnected successfully")
	return nil
}

// IsConnected reports whether the link is up.
func (t *BLETransport) IsConnected() bool {
	t.connMutex.RLock()
	defer t.connMutex.RUnlock()
	return t.client != nil && t.connected
}

// lookup returns the live client and characteristic for a UUID.
func (t *BLETransport) lookup(char string) (ble.Client, *ble.Characteristic, error) {
	t.connMutex.RLock()
	defer t.connMutex.RUnlock()

	if t.client == nil || !t.connected {
		return nil, nil, fmt.Errorf("characteristic %s: %w", device.ShortenUUID(device.NormalizeUUID(char)), device.ErrNotConnected)
	}
	c, ok := t.chars[device.NormalizeUUID(char)]
	if !ok {
		return nil, nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{char}}
	}
	return t.client, c, nil
}

// Read reads a characteristic value, bounded by the read timeout.
func (t *BLETransport) Read(char string) ([]byte, error) {
	client, c, err := t.lookup(char)
	if err != nil {
		return nil, err
	}

	type readResult struct {
		data []byte
		err  error
	}
	resultCh := make(chan readResult, 1)

	go func() {
		data, err := client.ReadCharacteristic(c)
		resultCh <- readResult{data: data, err: err}
	}()

	timer := time.NewTimer(t.readTimeout)
	defer timer.Stop()

	select {
	case result := <-resultCh:
		if result.err != nil {
			return nil, fmt.Errorf("failed to read characteristic %s: %w", char, NormalizeError(result.err))
		}
		return result.data, nil
	case <-timer.C:
		return nil, fmt.Errorf("timeout reading characteristic %s after %v: %w", char, t.readTimeout, device.ErrTimeout)
	}
}

// Write writes data to a characteristic. Writes are serialized.
func (t *BLETransport) Write(char string, data []byte, withResponse bool) error {
	client, c, err := t.lookup(char)
	if err != nil {
		return err
	}

	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	if err := client.WriteCharacteristic(c, data, !withResponse); err != nil {
		return fmt.Errorf("failed to write characteristic %s: %w", char, NormalizeError(err))
	}
	return nil
}

// EnableNotifications subscribes to a characteristic. Subscribing twice is a no-op.
func (t *BLETransport) EnableNotifications(char string) error {
	client, c, err := t.lookup(char)
	if err != nil {
		return err
	}

	key := device.NormalizeUUID(char)

	t.connMutex.Lock()
	_, done := t.subscribed[key]
	t.connMutex.Unlock()
	if done {
		return nil
	}

	handler := ble.NotificationHandler(func(data []byte) {
		payload := make([]byte, len(data))
		copy(payload, data)
		if t.queue.Send(device.Notification{Char: key, Data: payload, TsUs: time.Now().UnixMicro()}) {
			t.logger.WithField("char_uuid", key).Debug("Notification queue full, oldest notification dropped")
		}
	})

	if err := client.Subscribe(c, false, handler); err != nil {
		return fmt.Errorf("failed to subscribe to characteristic %s: %w", char, NormalizeError(err))
	}

	t.connMutex.Lock()
	t.subscribed[key] = struct{}{}
	t.connMutex.Unlock()

	t.logger.WithField("char_uuid", key).Debug("Subscribed to characteristic notifications")
	return nil
}

// SetListener installs the function WaitForNotification hands notifications to.
func (t *BLETransport) SetListener(l device.Listener) {
	t.listenerMu.Lock()
	t.listener = l
	t.listenerMu.Unlock()
}

// WaitForNotification blocks up to timeout and hands at most one queued
// notification to the listener.
func (t *BLETransport) WaitForNotification(timeout time.Duration) (bool, error) {
	if !t.IsConnected() {
		return false, device.ErrNotConnected
	}

	n, ok := t.queue.ReceiveTimeout(timeout)
	if !ok {
		if !t.IsConnected() {
			return false, device.ErrNotConnected
		}
		return false, nil
	}

	t.listenerMu.RLock()
	l := t.listener
	t.listenerMu.RUnlock()

	if l == nil {
		t.logger.WithField("char_uuid", n.Char).Debug("No listener installed, notification dropped")
		return false, nil
	}
	l(n)
	return true, nil
}

var _ device.Transport = (*BLETransport)(nil)
