package goble_test

import (
	"context"
	"errors"
	"testing"
	"time"

	blelib "github.com/go-ble/ble"
	goble "github.com/srg/bandctl/internal/device/go-ble"
	"github.com/srg/bandctl/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type ScannerTestSuite struct {
	suite.Suite
	helper          *testutils.TestHelper
	originalFactory func() (blelib.Device, error)
	advs            []blelib.Advertisement
}

func (s *ScannerTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.originalFactory = goble.DeviceFactory
	s.advs = []blelib.Advertisement{
		testutils.NewAdvertisement("aa:bb:cc:dd:ee:ff", "Mi Smart Band 4", -60, "fee0"),
		testutils.NewAdvertisement("11:22:33:44:55:66", "Heart Strap", -40, "180d"),
		testutils.NewAdvertisement("99:88:77:66:55:44", "Mi Smart Band 4", -45, "0000fee0-0000-1000-8000-00805f9b34fb"),
		// scan response for the first band, without services
		testutils.NewAdvertisement("aa:bb:cc:dd:ee:ff", "", -58),
	}
	goble.DeviceFactory = func() (blelib.Device, error) {
		return testutils.NewScanningDevice(s.advs...), nil
	}
}

func (s *ScannerTestSuite) TearDownTest() {
	goble.DeviceFactory = s.originalFactory
}

func (s *ScannerTestSuite) scan(opts *goble.ScanOptions) ([]goble.Advertisement, []string) {
	var phases []string
	found, err := goble.NewScanner(s.helper.Logger).Scan(context.Background(), opts, func(p string) {
		phases = append(phases, p)
	})
	s.Require().NoError(err)
	return found, phases
}

func (s *ScannerTestSuite) TestFindsMiBandsByDefault() {
	// GOAL: The default scan MUST keep only peripherals advertising the Mi Band service
	//
	// TEST SCENARIO: Two bands and a heart strap advertise → two results, strongest first, merged fields

	found, phases := s.scan(nil)

	s.Equal([]string{"Scanning", "Processing results"}, phases)
	s.Require().Len(found, 2)

	s.Equal("99:88:77:66:55:44", found[0].Address, "results MUST be ordered by signal strength")
	s.Equal("AA:BB:CC:DD:EE:FF", found[1].Address)
	s.Equal("Mi Smart Band 4", found[1].Name, "an empty scan response MUST NOT clear the name")
	s.Equal(-58, found[1].RSSI, "RSSI MUST track the latest advertisement")
	s.Equal([]string{"fee0"}, found[1].Services)
	s.True(found[1].Connectable)
}

func (s *ScannerTestSuite) TestNoServiceFilter() {
	opts := goble.DefaultScanOptions()
	opts.ServiceUUIDs = nil

	found, _ := s.scan(opts)
	s.Len(found, 3)
	s.Equal("11:22:33:44:55:66", found[0].Address)
}

func (s *ScannerTestSuite) TestAllowAndBlockLists() {
	opts := goble.DefaultScanOptions()
	opts.BlockList = []string{"99:88:77:66:55:44"}
	found, _ := s.scan(opts)
	s.Require().Len(found, 1)
	s.Equal("AA:BB:CC:DD:EE:FF", found[0].Address)

	opts = goble.DefaultScanOptions()
	opts.AllowList = []string{"99:88:77:66:55:44"}
	found, _ = s.scan(opts)
	s.Require().Len(found, 1)
	s.Equal("99:88:77:66:55:44", found[0].Address)
}

func (s *ScannerTestSuite) TestScanFailure() {
	goble.DeviceFactory = func() (blelib.Device, error) {
		dev := testutils.NewScanningDevice()
		dev.ExpectedCalls = nil
		dev.On("Scan", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("hci: device busy"))
		return dev, nil
	}

	_, err := goble.NewScanner(nil).Scan(context.Background(), nil, nil)
	s.ErrorContains(err, "scan failed")
}

func (s *ScannerTestSuite) TestCancelledScan() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := goble.DefaultScanOptions()
	opts.Duration = time.Second
	_, err := goble.NewScanner(nil).Scan(ctx, opts, nil)
	s.ErrorIs(err, context.Canceled)
}

func TestScannerTestSuite(t *testing.T) {
	suite.Run(t, new(ScannerTestSuite))
}
