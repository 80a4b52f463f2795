//go:build test

package testutils

import (
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	goble "github.com/srg/bandctl/internal/device/go-ble"
	"github.com/stretchr/testify/suite"
)

// MockBLEPeripheralSuite provides a reusable test suite with mock BLE peripheral support.
//
// The suite swaps goble.DeviceFactory for a mocked device built from
// PeripheralBuilder before each test and restores it afterwards.
//
// Basic usage (default Mi Band profile):
//
//	type TransportSuite struct {
//	    testutils.MockBLEPeripheralSuite
//	}
//
//	func TestTransportSuite(t *testing.T) {
//	    suite.Run(t, new(TransportSuite))
//	}
//
// Custom profile usage:
//
//	func (s *TransportSuite) SetupTest() {
//	    s.WithPeripheral().
//	        WithService("180D").
//	        WithCharacteristic("2A37", "read,notify", []byte{0, 72})
//
//	    s.MockBLEPeripheralSuite.SetupTest() // Call parent last to apply configuration
//	}
type MockBLEPeripheralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	OriginalDeviceFactory func() (blelib.Device, error)
	TestTimeout           time.Duration

	PeripheralBuilder *PeripheralDeviceBuilder
}

// SetupSuite initializes the helper and saves the device factory.
func (s *MockBLEPeripheralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 5 * time.Second

	s.OriginalDeviceFactory = goble.DeviceFactory
	s.T().Cleanup(func() {
		if s.OriginalDeviceFactory != nil {
			goble.DeviceFactory = s.OriginalDeviceFactory
		}
	})
}

// SetupTest configures the mock device factory before each test.
func (s *MockBLEPeripheralSuite) SetupTest() {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewMiBandPeripheral()
	}

	builder := s.PeripheralBuilder
	goble.DeviceFactory = func() (blelib.Device, error) {
		return builder.Build(), nil
	}
}

// TearDownTest restores the device factory and resets the builder.
func (s *MockBLEPeripheralSuite) TearDownTest() {
	if s.OriginalDeviceFactory != nil {
		goble.DeviceFactory = s.OriginalDeviceFactory
	}
	s.PeripheralBuilder = nil
}

// WithPeripheral returns the peripheral builder for fluent configuration.
func (s *MockBLEPeripheralSuite) WithPeripheral() *PeripheralDeviceBuilder {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewPeripheralDeviceBuilder()
	}
	return s.PeripheralBuilder
}

// NewMiBandPeripheral returns a builder preloaded with the Mi Band 4 GATT profile.
func NewMiBandPeripheral() *PeripheralDeviceBuilder {
	return NewPeripheralDeviceBuilder().FromJSON(`
	{
		"services": [
			{
				"uuid": "fee0",
				"characteristics": [
					{ "uuid": "00000006-0000-3512-2118-0009af100700", "properties": "read,notify", "value": [15, 80, 0] },
					{ "uuid": "00000007-0000-3512-2118-0009af100700", "properties": "read,notify", "value": [12, 16, 39, 0, 0, 100, 0, 0, 0, 42] },
					{ "uuid": "00000010-0000-3512-2118-0009af100700", "properties": "notify" },
					{ "uuid": "00000004-0000-3512-2118-0009af100700", "properties": "write,notify" },
					{ "uuid": "00000005-0000-3512-2118-0009af100700", "properties": "notify" },
					{ "uuid": "00000020-0000-3512-2118-0009af100700", "properties": "write,notify" },
					{ "uuid": "2a2b", "properties": "read,write,notify" }
				]
			},
			{
				"uuid": "fee1",
				"characteristics": [
					{ "uuid": "00000009-0000-3512-2118-0009af100700", "properties": "write-without-response,notify" }
				]
			},
			{
				"uuid": "180d",
				"characteristics": [
					{ "uuid": "2a37", "properties": "notify" },
					{ "uuid": "2a39", "properties": "read,write" }
				]
			},
			{
				"uuid": "1811",
				"characteristics": [
					{ "uuid": "2a46", "properties": "write" }
				]
			}
		]
	}`)
}
