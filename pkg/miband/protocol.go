package miband

import (
	"bytes"
	"crypto/aes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/srg/bandctl/internal/device"
)

const huamiBase = "-0000-3512-2118-0009af100700"

func huami(prefix string) string {
	return device.NormalizeUUID(prefix + huamiBase)
}

// Characteristics, in device.NormalizeUUID form.
var (
	CharAuth            = huami("00000009")
	CharBattery         = huami("00000006")
	CharSteps           = huami("00000007")
	CharActivityData    = huami("00000005")
	CharFetch           = huami("00000004")
	CharChunkedTransfer = huami("00000020")
	CharDeviceEvent     = huami("00000010")
	CharDFUControl      = huami("00001531")
	CharDFUPacket       = huami("00001532")

	CharCurrentTime      = device.NormalizeUUID("2a2b")
	CharAlert            = device.NormalizeUUID("2a46")
	CharHeartRateMeasure = device.NormalizeUUID("2a37")
	CharHeartRateControl = device.NormalizeUUID("2a39")
	CharSerialNumber     = device.NormalizeUUID("2a25")
	CharHardwareRevision = device.NormalizeUUID("2a27")
	CharSoftwareRevision = device.NormalizeUUID("2a28")
)

// Auth opcodes.
const (
	authSendKey       byte = 0x01
	authRequestRandom byte = 0x02
	authSendEncrypted byte = 0x03
	authResponse      byte = 0x10
	authSuccess       byte = 0x01
	authFail          byte = 0x04
	authFlags         byte = 0x00
)

func encodeAuthSendKey(key []byte) []byte {
	return append([]byte{authSendKey, authFlags}, key...)
}

func encodeAuthRequestRandom() []byte {
	return []byte{authRequestRandom, authFlags}
}

// encodeAuthEncrypted encrypts the 16 byte challenge with AES-128 in ECB mode,
// which for a single block is one block cipher call.
func encodeAuthEncrypted(key, random []byte) ([]byte, error) {
	if len(key) != authKeyBytes {
		return nil, invalidArgument("auth", "auth key must be %d bytes, got %d", authKeyBytes, len(key))
	}
	if len(random) != aes.BlockSize {
		return nil, newError(KindMalformedPayload, "auth", fmt.Sprintf("challenge must be %d bytes, got %d", aes.BlockSize, len(random)), nil)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, newError(KindAuthentication, "auth", "cipher", err)
	}
	out := make([]byte, aes.BlockSize)
	block.Encrypt(out, random)
	return append([]byte{authSendEncrypted, authFlags}, out...), nil
}

// authReply is a decoded `10 <step> <status> [payload]` notification.
type authReply struct {
	step    byte
	status  byte
	payload []byte
}

func decodeAuthReply(b []byte) (authReply, error) {
	if len(b) < 3 || b[0] != authResponse {
		return authReply{}, newError(KindMalformedPayload, "auth", fmt.Sprintf("unexpected auth reply % x", b), nil)
	}
	return authReply{step: b[1], status: b[2], payload: b[3:]}, nil
}

// AlertType selects the icon shown by the band.
type AlertType int

const (
	AlertMail AlertType = iota + 1
	AlertMessage
	AlertMissedCall
	AlertCall
)

// alertCodes maps the 1-based menu selector onto device alert codes.
var alertCodes = [...]byte{1, 5, 4, 3}

// customAlertCode is the device code used for free-form text.
const customAlertCode byte = 5

func (t AlertType) String() string {
	switch t {
	case AlertMail:
		return "mail"
	case AlertMessage:
		return "message"
	case AlertMissedCall:
		return "missed-call"
	case AlertCall:
		return "call"
	default:
		return fmt.Sprintf("alert(%d)", int(t))
	}
}

// AlertCode returns the device alert code for a menu selector in 1..4.
func AlertCode(t AlertType) (byte, error) {
	if t < AlertMail || t > AlertCall {
		return 0, invalidArgument("send_alert", "alert type %d outside 1..%d", int(t), len(alertCodes))
	}
	return alertCodes[t-1], nil
}

func encodeAlert(code byte, title, message string) []byte {
	var buf bytes.Buffer
	buf.WriteByte(code)
	buf.WriteByte(0x01)
	buf.WriteString(title)
	buf.Write([]byte{0x0a, 0x0a, 0x0a})
	buf.WriteString(strings.ReplaceAll(message, `\n`, "\n"))
	return buf.Bytes()
}

// encodeTime encodes t in the Current Time characteristic layout with the
// band's trailing timezone byte (quarter hours east of UTC).
func encodeTime(t time.Time) []byte {
	b := make([]byte, 11)
	binary.LittleEndian.PutUint16(b[0:2], uint16(t.Year()))
	b[2] = byte(t.Month())
	b[3] = byte(t.Day())
	b[4] = byte(t.Hour())
	b[5] = byte(t.Minute())
	b[6] = byte(t.Second())
	b[7] = isoWeekday(t.Weekday())
	b[8] = byte(t.Nanosecond() * 256 / int(time.Second))
	b[9] = 0 // adjust reason
	_, offset := t.Zone()
	b[10] = byte(int8(offset / 900))
	return b
}

func isoWeekday(d time.Weekday) byte {
	if d == time.Sunday {
		return 7
	}
	return byte(d)
}

func decodeTime(b []byte) (time.Time, error) {
	if len(b) < 7 {
		return time.Time{}, newError(KindMalformedPayload, "current_time", fmt.Sprintf("need 7 bytes, got %d", len(b)), nil)
	}
	loc := time.Local
	if len(b) >= 11 {
		quarters := int(int8(b[10]))
		loc = time.FixedZone("", quarters*900)
	}
	frac := 0
	if len(b) >= 9 {
		frac = int(b[8]) * int(time.Second) / 256
	}
	return time.Date(
		int(binary.LittleEndian.Uint16(b[0:2])),
		time.Month(b[2]), int(b[3]), int(b[4]), int(b[5]), int(b[6]), frac, loc,
	), nil
}

// encodeFetchStart builds the activity fetch trigger for records from since.
func encodeFetchStart(since time.Time) []byte {
	b := []byte{0x01, 0x01}
	year := make([]byte, 2)
	binary.LittleEndian.PutUint16(year, uint16(since.Year()))
	b = append(b, year...)
	b = append(b, byte(since.Month()), byte(since.Day()), byte(since.Hour()), byte(since.Minute()))
	_, offset := since.Zone()
	return append(b, byte(int8(offset/900)))
}

// Battery is the decoded battery characteristic.
type Battery struct {
	Level    int  `json:"level"`
	Charging bool `json:"charging"`
}

func decodeBattery(b []byte) (Battery, error) {
	if len(b) < 2 {
		return Battery{}, newError(KindMalformedPayload, "battery", fmt.Sprintf("need 2 bytes, got %d", len(b)), nil)
	}
	level := int(b[1])
	if level > 100 {
		return Battery{}, newError(KindMalformedPayload, "battery", fmt.Sprintf("level %d out of range", level), nil)
	}
	return Battery{Level: level, Charging: len(b) > 2 && b[2] != 0}, nil
}

// Steps is the decoded realtime activity counter.
type Steps struct {
	Steps     int `json:"steps"`
	Meters    int `json:"meters"`
	Calories  int `json:"calories"`
	FatBurned int `json:"fat_burned"`
}

// decodeSteps reads each field only when the payload is long enough for it.
func decodeSteps(b []byte) Steps {
	var s Steps
	if len(b) >= 3 {
		s.Steps = int(binary.LittleEndian.Uint16(b[1:3]))
	}
	if len(b) >= 4 {
		s.FatBurned = int(binary.LittleEndian.Uint16(b[2:4]))
	}
	if len(b) >= 7 {
		s.Meters = int(binary.LittleEndian.Uint16(b[5:7]))
	}
	if len(b) >= 10 {
		s.Calories = int(b[9])
	}
	return s
}

// Heart rate control commands.
var (
	hrStopContinuous  = []byte{0x15, 0x01, 0x00}
	hrStopManual      = []byte{0x15, 0x02, 0x00}
	hrStartContinuous = []byte{0x15, 0x01, 0x01}
	hrStartManual     = []byte{0x15, 0x02, 0x01}
	hrPing            = []byte{0x16}
)

func decodeHeartRate(b []byte) (int, error) {
	if len(b) < 2 {
		return 0, newError(KindMalformedPayload, "heart_rate", fmt.Sprintf("need 2 bytes, got %d", len(b)), nil)
	}
	return int(b[1]), nil
}

// Device event codes.
const (
	eventFindStarted byte = 0x08
	eventFindStopped byte = 0x0f
	eventMusic       byte = 0xfe
)

// MusicCommand is a button press relayed by the band's music screen.
type MusicCommand byte

const (
	MusicPlay       MusicCommand = 0x00
	MusicPause      MusicCommand = 0x01
	MusicNext       MusicCommand = 0x03
	MusicPrevious   MusicCommand = 0x04
	MusicVolumeUp   MusicCommand = 0x05
	MusicVolumeDown MusicCommand = 0x06
	MusicFocusIn    MusicCommand = 0xe0
	MusicFocusOut   MusicCommand = 0xe1
)

func (c MusicCommand) String() string {
	switch c {
	case MusicPlay:
		return "play"
	case MusicPause:
		return "pause"
	case MusicNext:
		return "next"
	case MusicPrevious:
		return "previous"
	case MusicVolumeUp:
		return "volume-up"
	case MusicVolumeDown:
		return "volume-down"
	case MusicFocusIn:
		return "focus-in"
	case MusicFocusOut:
		return "focus-out"
	default:
		return fmt.Sprintf("music(0x%02x)", byte(c))
	}
}

// Fetch control replies on the fetch characteristic.
var (
	fetchStarted  = []byte{0x10, 0x01, 0x01}
	fetchBatchEnd = []byte{0x10, 0x02, 0x01}
	fetchNoMore   = []byte{0x10, 0x02, 0x04}
	fetchAck      = []byte{0x02}
)

// decodeFetchStart returns the timestamp of the first record in a fetch reply.
func decodeFetchStart(b []byte, loc *time.Location) (time.Time, error) {
	if len(b) < 13 {
		return time.Time{}, newError(KindMalformedPayload, "activity_log", fmt.Sprintf("fetch start needs 13 bytes, got %d", len(b)), nil)
	}
	return time.Date(int(binary.LittleEndian.Uint16(b[7:9])), time.Month(b[9]), int(b[10]), int(b[11]), int(b[12]), 0, 0, loc), nil
}

// ActivityEntry is one per-minute activity record.
type ActivityEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Category  int       `json:"category"`
	Intensity int       `json:"intensity"`
	Steps     int       `json:"steps"`
	HeartRate int       `json:"heart_rate"`
}

const activityRecordSize = 4

// decodeActivityPacket decodes the records of one activity data packet. The
// first byte is a packet counter; records are one minute apart starting at first.
func decodeActivityPacket(b []byte, first time.Time) ([]ActivityEntry, error) {
	if len(b)%activityRecordSize != 1 {
		return nil, newError(KindMalformedPayload, "activity_log", fmt.Sprintf("packet length %d is not 4n+1", len(b)), nil)
	}
	entries := make([]ActivityEntry, 0, len(b)/activityRecordSize)
	for i, n := 1, 0; i+activityRecordSize <= len(b); i, n = i+activityRecordSize, n+1 {
		entries = append(entries, ActivityEntry{
			Timestamp: first.Add(time.Duration(n) * time.Minute),
			Category:  int(b[i]),
			Intensity: int(b[i+1]),
			Steps:     int(b[i+2]),
			HeartRate: int(b[i+3]),
		})
	}
	return entries, nil
}

// Chunked transfer.
const (
	chunkMaxPayload       = 17
	chunkFlagContinuation = 0x40
	chunkFlagLast         = 0x80
	chunkTypeMusic        = 0x03
)

// encodeChunks splits data into chunked-transfer frames of the given type.
func encodeChunks(typ byte, data []byte) [][]byte {
	var frames [][]byte
	for count, off := 0, 0; off < len(data); count, off = count+1, off+chunkMaxPayload {
		end := off + chunkMaxPayload
		var flag byte
		if end >= len(data) {
			end = len(data)
			flag |= chunkFlagLast
			if count == 0 {
				flag |= chunkFlagContinuation
			}
		} else if count > 0 {
			flag |= chunkFlagContinuation
		}
		frame := make([]byte, 0, 3+end-off)
		frame = append(frame, 0x00, flag|typ, byte(count))
		frames = append(frames, append(frame, data[off:end]...))
	}
	return frames
}

// Track is the now-playing state pushed to the band's music screen.
type Track struct {
	Artist   string
	Album    string
	Title    string
	Playing  bool
	Position time.Duration
	Duration time.Duration
	Volume   int // 0..100
}

// Track payload flags.
const (
	trackFlagState    = 0x01
	trackFlagArtist   = 0x02
	trackFlagAlbum    = 0x04
	trackFlagTitle    = 0x08
	trackFlagDuration = 0x10
	trackFlagVolume   = 0x40
)

func encodeTrack(t Track) []byte {
	flags := byte(trackFlagState | trackFlagVolume)
	if t.Artist != "" {
		flags |= trackFlagArtist
	}
	if t.Album != "" {
		flags |= trackFlagAlbum
	}
	if t.Title != "" {
		flags |= trackFlagTitle
	}
	if t.Duration > 0 {
		flags |= trackFlagDuration
	}

	var buf bytes.Buffer
	buf.WriteByte(flags)
	if t.Playing {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	buf.WriteByte(0)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(t.Position/time.Second))
	for _, s := range []string{t.Artist, t.Album, t.Title} {
		if s != "" {
			buf.WriteString(s)
			buf.WriteByte(0)
		}
	}
	if t.Duration > 0 {
		_ = binary.Write(&buf, binary.LittleEndian, uint16(t.Duration/time.Second))
	}
	buf.WriteByte(byte(clamp(t.Volume, 0, 100)))
	return buf.Bytes()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Firmware transfer.
const (
	dfuStart       byte = 0x01
	dfuFirmware    byte = 0x08
	dfuResource    byte = 0x02
	dfuBegin       byte = 0x03
	dfuEnd         byte = 0x00
	dfuChecksum    byte = 0x04
	dfuReboot      byte = 0x05
	dfuPacketSize       = 20
	dfuMaxFileSize      = 1<<24 - 1
)

func encodeDFUStart(kind FirmwareKind, size int64) []byte {
	sz := []byte{byte(size), byte(size >> 8), byte(size >> 16)}
	if kind == FirmwareImage {
		b := append([]byte{dfuStart, dfuFirmware}, sz...)
		return append(b, 0, 0, 0, 0)
	}
	b := append([]byte{dfuStart}, sz...)
	return append(b, dfuResource)
}

func encodeDFUChecksum(crc uint16) []byte {
	return []byte{dfuChecksum, byte(crc), byte(crc >> 8)}
}

// CRC16 computes the CRC-16/CCITT-FALSE checksum the band verifies after a transfer.
func CRC16(data []byte) uint16 {
	crc := uint16(0xffff)
	for _, b := range data {
		crc = crc>>8 | crc<<8
		crc ^= uint16(b)
		crc ^= (crc & 0xff) >> 4
		crc ^= crc << 12
		crc ^= (crc & 0xff) << 5
	}
	return crc
}
