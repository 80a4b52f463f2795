package miband

import (
	"bytes"
	"context"
	"testing"

	"github.com/srg/bandctl/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func firmwareImage(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

func TestFirmwareKindFromPath(t *testing.T) {
	tests := []struct {
		path    string
		want    FirmwareKind
		wantErr bool
	}{
		{"Mili_cinco.fw", FirmwareImage, false},
		{"/tmp/Mili_cinco.res", FirmwareResource, false},
		{"watchface.BIN", FirmwareResource, false},
		{"notes.txt", 0, true},
		{"firmware", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := FirmwareKindFromPath(tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStartFirmwareTransfer_Firmware(t *testing.T) {
	// GOAL: Verify the firmware upload control sequence, packetization and progress reports
	//
	// TEST SCENARIO: Write a 45 byte .fw file → transfer → check control writes, packets and progress

	s, band := newTestSession(t)
	data := firmwareImage(45)
	path := testutils.NewTestHelper(t).WriteTempFile("band.fw", data)

	var progress recorder[int64]
	require.NoError(t, s.StartFirmwareTransfer(context.Background(), path, func(sent, total int64) {
		assert.Equal(t, int64(45), total)
		progress.add(sent)
	}))

	crc := CRC16(data)
	assert.Equal(t, [][]byte{
		{0x01, 0x08, 45, 0, 0, 0, 0, 0, 0},
		{0x03},
		{0x00},
		{0x04, byte(crc), byte(crc >> 8)},
		{0x05},
	}, band.Writes(CharDFUControl))

	packets := band.Writes(CharDFUPacket)
	require.Len(t, packets, 3)
	assert.Len(t, packets[0], 20)
	assert.Len(t, packets[2], 5)
	assert.Equal(t, data, bytes.Join(packets, nil))
	assert.Equal(t, []int64{20, 40, 45}, progress.get())
	assert.True(t, band.Subscribed(CharDFUControl))
}

func TestStartFirmwareTransfer_Resource(t *testing.T) {
	s, band := newTestSession(t)
	data := firmwareImage(20)
	path := testutils.NewTestHelper(t).WriteTempFile("pack.res", data)

	band.OnWrite(CharDFUControl, func(b []byte) {
		band.Push(CharDFUControl, []byte{0x10, b[0], 0x01})
	})

	require.NoError(t, s.StartFirmwareTransfer(context.Background(), path, nil))

	crc := CRC16(data)
	assert.Equal(t, [][]byte{
		{0x01, 20, 0, 0, 0x02},
		{0x03},
		{0x00},
		{0x04, byte(crc), byte(crc >> 8)},
	}, band.Writes(CharDFUControl), "resources MUST NOT trigger a reboot")
	assert.Zero(t, s.router.Pending())
}

func TestStartFirmwareTransfer_Rejects(t *testing.T) {
	s, band := newTestSession(t)
	h := testutils.NewTestHelper(t)

	err := s.StartFirmwareTransfer(context.Background(), h.WriteTempFile("image.zip", []byte("x")), nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	err = s.StartFirmwareTransfer(context.Background(), h.WriteTempFile("empty.fw", nil), nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	err = s.TransferFirmware(context.Background(), FirmwareImage, bytes.NewReader([]byte{1, 2}), 10, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument, "a short image MUST be rejected before connecting")

	assert.Zero(t, band.ConnectCalls())
}

func TestStartFirmwareTransfer_RequiresAuthentication(t *testing.T) {
	s, band := newTestSession(t)
	band.SetAuthMode(testutils.AuthReject)

	err := s.TransferFirmware(context.Background(), FirmwareImage, bytes.NewReader(firmwareImage(4)), 4, nil)
	assert.ErrorIs(t, err, ErrAuthentication)

	err = s.TransferFirmware(context.Background(), FirmwareImage, bytes.NewReader(firmwareImage(4)), 4, nil)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Empty(t, band.Writes(CharDFUPacket))
}
