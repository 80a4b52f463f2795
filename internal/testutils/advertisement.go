package testutils

import (
	"github.com/go-ble/ble"
	"github.com/srg/bandctl/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
)

// NewAdvertisement builds a connectable mocked advertisement. Expectations
// are optional so scans may read any subset of the fields.
func NewAdvertisement(addr, name string, rssi int, services ...string) *mocks.MockAdvertisement {
	uuids := make([]ble.UUID, 0, len(services))
	for _, s := range services {
		uuids = append(uuids, ble.MustParse(s))
	}

	adv := &mocks.MockAdvertisement{}
	adv.On("Addr").Return(ble.NewAddr(addr)).Maybe()
	adv.On("LocalName").Return(name).Maybe()
	adv.On("RSSI").Return(rssi).Maybe()
	adv.On("Services").Return(uuids).Maybe()
	adv.On("Connectable").Return(true).Maybe()
	return adv
}

// NewScanningDevice returns a mocked ble.Device whose Scan delivers advs to
// the handler and returns.
func NewScanningDevice(advs ...ble.Advertisement) *mocks.MockDevice {
	dev := &mocks.MockDevice{}
	dev.On("Scan", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		h := args.Get(2).(ble.AdvHandler)
		for _, a := range advs {
			h(a)
		}
	}).Return(nil)
	return dev
}
