package miband

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// FirmwareKind selects how the band treats a transferred image.
type FirmwareKind int

const (
	// FirmwareImage is a .fw file; the band reboots after the transfer.
	FirmwareImage FirmwareKind = iota
	// FirmwareResource is a .res resource pack or a .bin watchface.
	FirmwareResource
)

func (k FirmwareKind) String() string {
	if k == FirmwareImage {
		return "firmware"
	}
	return "resource"
}

// FirmwareKindFromPath derives the kind from the file extension.
func FirmwareKindFromPath(path string) (FirmwareKind, error) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "fw":
		return FirmwareImage, nil
	case "res", "bin":
		return FirmwareResource, nil
	}
	return 0, invalidArgument(OpFirmwareUpdate, "unsupported file extension %q (want .fw, .res or .bin)", filepath.Ext(path))
}

// ProgressFunc reports transfer progress in bytes.
type ProgressFunc func(sent, total int64)

// StartFirmwareTransfer uploads a firmware, resource or watchface file.
func (s *Session) StartFirmwareTransfer(ctx context.Context, path string, progress ProgressFunc) error {
	if s.freezed {
		return s.freezedError(OpFirmwareUpdate)
	}
	kind, err := FirmwareKindFromPath(path)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open firmware file: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat firmware file: %w", err)
	}
	return s.TransferFirmware(ctx, kind, f, fi.Size(), progress)
}

// TransferFirmware uploads size bytes from r. The image is read fully before
// anything is sent so the CRC covers the whole image before the transfer starts.
func (s *Session) TransferFirmware(ctx context.Context, kind FirmwareKind, r io.Reader, size int64, progress ProgressFunc) error {
	if s.freezed {
		return s.freezedError(OpFirmwareUpdate)
	}
	if size <= 0 || size > dfuMaxFileSize {
		return invalidArgument(OpFirmwareUpdate, "image size %d outside 1..%d bytes", size, dfuMaxFileSize)
	}
	data, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return fmt.Errorf("read firmware image: %w", err)
	}
	if int64(len(data)) != size {
		return invalidArgument(OpFirmwareUpdate, "image is %d bytes, expected %d", len(data), size)
	}
	crc := CRC16(data)

	return s.exec(ctx, OpFirmwareUpdate, func(ctx context.Context) error {
		log := s.log().WithFields(logrus.Fields{
			"kind": kind,
			"size": size,
			"crc":  fmt.Sprintf("0x%04x", crc),
		})
		log.Info("Starting firmware transfer")

		if err := s.enable(OpFirmwareUpdate, CharDFUControl); err != nil {
			return err
		}
		if err := s.settleWrite(ctx, encodeDFUStart(kind, size), false); err != nil {
			return err
		}
		if err := s.write(OpFirmwareUpdate, CharDFUControl, []byte{dfuBegin}, true); err != nil {
			return err
		}

		for off := 0; off < len(data); off += dfuPacketSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := min(off+dfuPacketSize, len(data))
			if err := s.write(OpFirmwareUpdate, CharDFUPacket, data[off:end], false); err != nil {
				return err
			}
			if progress != nil {
				progress(int64(end), size)
			}
		}

		if err := s.settleWrite(ctx, []byte{dfuEnd}, true); err != nil {
			return err
		}
		if kind == FirmwareImage {
			if err := s.settleWrite(ctx, encodeDFUChecksum(crc), true); err != nil {
				return err
			}
			if err := s.write(OpFirmwareUpdate, CharDFUControl, []byte{dfuReboot}, true); err != nil {
				return err
			}
		} else if err := s.write(OpFirmwareUpdate, CharDFUControl, encodeDFUChecksum(crc), true); err != nil {
			return err
		}

		log.Info("Firmware transfer complete")
		return nil
	})
}

// settleWrite writes a DFU control command and gives the band up to
// FirmwareSettle to answer. A missing answer is not an error.
func (s *Session) settleWrite(ctx context.Context, data []byte, withResponse bool) error {
	payload, err := s.request(ctx, OpFirmwareUpdate, CategoryFirmware, CharDFUControl, data, withResponse, s.opts.FirmwareSettle)
	switch {
	case err == nil:
		s.log().WithField("reply", fmt.Sprintf("% x", payload)).Debug("DFU control reply")
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case KindOf(err) == KindTimeout:
		return nil
	default:
		return err
	}
}
