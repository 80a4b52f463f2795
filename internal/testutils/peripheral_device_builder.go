package testutils

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	blelib "github.com/go-ble/ble"
	"github.com/srg/bandctl/internal/device"
	"github.com/srg/bandctl/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
)

// CharacteristicConfig represents a BLE characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "read,write,notify"
	Value      []byte `json:"value,omitempty"`
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig represents the complete device profile for mocking
type DeviceProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// PeripheralDeviceBuilder builds a mocked ble.Device with a GATT profile.
//
// After Build, the peripheral can push notifications to subscribed
// characteristics with Notify and drop the link with SimulateDisconnect.
type PeripheralDeviceBuilder struct {
	profile DeviceProfileConfig
	dialErr error

	mu       sync.Mutex
	client   *mocks.MockClient
	handlers map[string]blelib.NotificationHandler
}

// NewPeripheralDeviceBuilder creates a new peripheral device builder
func NewPeripheralDeviceBuilder() *PeripheralDeviceBuilder {
	return &PeripheralDeviceBuilder{
		profile: DeviceProfileConfig{
			Services: []ServiceConfig{},
		},
		handlers: make(map[string]blelib.NotificationHandler),
	}
}

// WithService adds a service to the device profile
func (b *PeripheralDeviceBuilder) WithService(uuid string) *PeripheralDeviceBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{
		UUID:            uuid,
		Characteristics: []CharacteristicConfig{},
	})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralDeviceBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralDeviceBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// WithDialError makes Dial fail with err.
func (b *PeripheralDeviceBuilder) WithDialError(err error) *PeripheralDeviceBuilder {
	b.dialErr = err
	return b
}

// FromJSON fills the device profile from JSON
func (b *PeripheralDeviceBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralDeviceBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralDeviceBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	b.profile = config
	return b
}

// parseCharacteristicProperties converts a comma separated property list to ble.Property flags
func parseCharacteristicProperties(props string) blelib.Property {
	if props == "" {
		return blelib.CharRead | blelib.CharWrite | blelib.CharNotify
	}

	var property blelib.Property
	for _, p := range strings.Split(props, ",") {
		switch strings.TrimSpace(p) {
		case "read":
			property |= blelib.CharRead
		case "write":
			property |= blelib.CharWrite
		case "write-without-response":
			property |= blelib.CharWriteNR
		case "notify":
			property |= blelib.CharNotify
		case "indicate":
			property |= blelib.CharIndicate
		}
	}
	return property
}

// Build creates a mocked ble.Device with the configured profile
func (b *PeripheralDeviceBuilder) Build() blelib.Device {
	mockDevice := &mocks.MockDevice{}
	mockClient := &mocks.MockClient{DisconnectedCh: make(chan struct{})}

	var bleServices []*blelib.Service
	for _, svcConfig := range b.profile.Services {
		bleService := &blelib.Service{UUID: blelib.MustParse(svcConfig.UUID)}

		for _, charConfig := range svcConfig.Characteristics {
			bleService.Characteristics = append(bleService.Characteristics, &blelib.Characteristic{
				UUID:     blelib.MustParse(charConfig.UUID),
				Property: parseCharacteristicProperties(charConfig.Properties),
				Value:    charConfig.Value,
			})
		}
		bleServices = append(bleServices, bleService)
	}

	if b.dialErr != nil {
		mockDevice.On("Dial", mock.Anything, mock.Anything).Return(nil, b.dialErr)
	} else {
		mockDevice.On("Dial", mock.Anything, mock.Anything).Return(mockClient, nil)
	}
	mockClient.On("DiscoverProfile", true).Return(&blelib.Profile{Services: bleServices}, nil)
	mockClient.On("CancelConnection").Return(nil)

	for _, svc := range bleServices {
		for _, char := range svc.Characteristics {
			key := device.NormalizeUUID(char.UUID.String())

			mockClient.On("Subscribe", char, false, mock.Anything).Run(func(args mock.Arguments) {
				b.mu.Lock()
				b.handlers[key] = args.Get(2).(blelib.NotificationHandler)
				b.mu.Unlock()
			}).Return(nil)
			mockClient.On("Unsubscribe", char, false).Return(nil)
			mockClient.On("WriteCharacteristic", char, mock.Anything, mock.Anything).Return(nil)

			if char.Property&blelib.CharRead != 0 {
				mockClient.On("ReadCharacteristic", char).Return(char.Value, nil)
			} else {
				mockClient.On("ReadCharacteristic", char).Return(nil, fmt.Errorf("characteristic does not support read"))
			}
		}
	}

	b.mu.Lock()
	b.client = mockClient
	b.mu.Unlock()

	return mockDevice
}

// Client returns the mock client handed out by the last built device.
func (b *PeripheralDeviceBuilder) Client() *mocks.MockClient {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client
}

// Notify invokes the notification handler registered for char.
// It reports false when nothing is subscribed to char.
func (b *PeripheralDeviceBuilder) Notify(char string, data []byte) bool {
	b.mu.Lock()
	h, ok := b.handlers[device.NormalizeUUID(char)]
	b.mu.Unlock()
	if !ok {
		return false
	}
	h(data)
	return true
}

// SimulateDisconnect closes the Disconnected channel of the last built client.
func (b *PeripheralDeviceBuilder) SimulateDisconnect() {
	if c := b.Client(); c != nil {
		close(c.DisconnectedCh)
	}
}

// GetServices returns the configured services
func (b *PeripheralDeviceBuilder) GetServices() []ServiceConfig {
	return b.profile.Services
}
