package goble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bandctl/internal/device"
)

// MiBandService is the service UUID Mi Band 4 advertises.
const MiBandService = "fee0"

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// Advertisement is one discovered peripheral, merged over all of its advertisements.
type Advertisement struct {
	Address     string   `json:"address"`
	Name        string   `json:"name,omitempty"`
	RSSI        int      `json:"rssi"`
	Services    []string `json:"services,omitempty"`
	Connectable bool     `json:"connectable"`
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	// ServiceUUIDs keeps peripherals advertising any of these services.
	ServiceUUIDs []string
	AllowList    []string
	BlockList    []string
}

// DefaultScanOptions returns options that find Mi Bands for 10 seconds.
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
		ServiceUUIDs:    []string{MiBandService},
	}
}

// Scanner discovers advertising peripherals.
type Scanner struct {
	devices *hashmap.Map[string, *Advertisement]
	logger  *logrus.Logger
	opts    *ScanOptions
}

// NewScanner creates a scanner.
func NewScanner(logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{logger: logger}
}

// Scan listens for advertisements for opts.Duration or until ctx ends and
// returns the peripherals found, strongest signal first.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progress ProgressCallback) ([]Advertisement, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progress == nil {
		progress = func(string) {}
	}
	s.devices = hashmap.New[string, *Advertisement]()
	s.opts = opts
	defer func() { s.opts = nil }()

	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progress("Scanning")

	scanCtx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()
	err = dev.Scan(scanCtx, !opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", NormalizeError(err))
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progress("Processing results")

	found := make([]Advertisement, 0, s.devices.Len())
	s.devices.Range(func(_ string, a *Advertisement) bool {
		found = append(found, *a)
		return true
	})
	sort.Slice(found, func(i, j int) bool {
		if found[i].RSSI != found[j].RSSI {
			return found[i].RSSI > found[j].RSSI
		}
		return found[i].Address < found[j].Address
	})
	return found, nil
}

// handleAdvertisement updates an existing peripheral or adds a new one.
// Scan responses often carry the name separately, so fields are merged.
func (s *Scanner) handleAdvertisement(adv ble.Advertisement) {
	addr := strings.ToUpper(adv.Addr().String())

	a, existing := s.devices.Get(addr)
	if !existing {
		if !s.shouldInclude(addr, adv) {
			return
		}
		a = &Advertisement{Address: addr}
		s.devices.Set(addr, a)
		defer s.logger.WithFields(logrus.Fields{
			"address": addr,
			"name":    adv.LocalName(),
			"rssi":    adv.RSSI(),
		}).Info("Discovered new device")
	}

	if name := adv.LocalName(); name != "" {
		a.Name = name
	}
	a.RSSI = adv.RSSI()
	a.Connectable = adv.Connectable()
	for _, u := range adv.Services() {
		svc := device.NormalizeUUID(u.String())
		if !contains(a.Services, svc) {
			a.Services = append(a.Services, svc)
		}
	}
}

// shouldInclude applies the allow, block and service filters.
func (s *Scanner) shouldInclude(addr string, adv ble.Advertisement) bool {
	if containsFold(s.opts.BlockList, addr) {
		return false
	}
	if len(s.opts.AllowList) > 0 && !containsFold(s.opts.AllowList, addr) {
		return false
	}
	if len(s.opts.ServiceUUIDs) == 0 {
		return true
	}

	required := device.NormalizeUUIDs(s.opts.ServiceUUIDs)
	for _, u := range adv.Services() {
		if contains(required, device.NormalizeUUID(u.String())) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
