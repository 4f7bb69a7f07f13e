// Package mbr builds the classic 4-slot Master Boot Record used to screen
// bad regions of a device off from the operating system: verified-good
// ranges become FAT32/LBA partitions, the bad envelope becomes a keep-out
// entry no tool will touch.
package mbr

import (
	"encoding/binary"
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"scanflash/device"
)

const (
	// Size is the length of the MBR image in bytes.
	Size = 512

	// SectorSize is the unit the partition table is expressed in.
	SectorSize = 512

	// TypeGood marks usable space (FAT32 with LBA addressing).
	TypeGood = 0x0C

	// TypeBad marks unusable space. 0xFF is the old Xenix bad-block-table
	// type, repurposed here as a marker nothing will mount or format.
	TypeBad = 0xFF

	// MinPartSectors is the smallest partition worth creating: 16 MiB.
	// Good space smaller than this is silently dropped.
	MinPartSectors = 16 * 1048576 / SectorSize

	serialOffset = 0x1B8
	tableOffset  = 0x1BE
	entryLen     = 16

	// Geometry used for the legacy CHS fields.
	chsHeads   = 16
	chsSectors = 63
)

// Entry is one partition: sectors [Start, End) of the given type.
type Entry struct {
	Start uint64
	End   uint64
	Type  byte
}

func (e Entry) String() string {
	kind := "good"
	if e.Type != TypeGood {
		kind = fmt.Sprintf("type %#02x", e.Type)
		if e.Type == TypeBad {
			kind = "bad"
		}
	}
	return fmt.Sprintf("%s [%d, %d) %d sectors", kind, e.Start, e.End, e.End-e.Start)
}

// Layout derives the partition entries from the bad-region envelope.
// firstBad and lastBad are byte offsets (lastBad inclusive; its successor is
// the first good byte); size is the device size in bytes. firstBad == 0 and
// lastBad == 0 together mean "no bad region found" and collapse to a single
// good entry covering the whole device.
func Layout(firstBad, lastBad, size uint64) []Entry {
	start := firstBad / SectorSize
	end := (lastBad + 1) / SectorSize
	num := size / SectorSize

	var entries []Entry
	if start > MinPartSectors {
		// Enough good space before the bad region for a usable partition.
		// Skipped when the whole device is good (start == 0).
		entries = append(entries, Entry{Start: 0, End: start, Type: TypeGood})
	}
	if start != 0 && end != 0 {
		// Bad section in the middle.
		entries = append(entries, Entry{Start: start, End: end, Type: TypeBad})
	}
	if end < num-MinPartSectors {
		// Good space after the bad region, or the whole device is good.
		entries = append(entries, Entry{Start: end, End: num, Type: TypeGood})
	}
	return entries
}

// chs converts an LBA sector number into the packed 3-byte CHS encoding:
// head, then the sector byte carrying the two high bits of the 10-bit
// cylinder, then the low cylinder byte.
func chs(lba uint64) [3]byte {
	cyl := lba / (chsSectors * chsHeads)
	head := (lba / chsSectors) % chsHeads
	sector := (lba % chsSectors) + 1
	return [3]byte{
		byte(head),
		byte(((cyl & 0x300) >> 2) | sector),
		byte(cyl & 0xFF),
	}
}

// Encode produces the 512-byte MBR image for the given entries. At most 3
// entries are ever produced by Layout; slot 4 stays zeroed.
func Encode(entries []Entry, serial uint32) []byte {
	img := make([]byte, Size)
	binary.LittleEndian.PutUint32(img[serialOffset:], serial)
	for i, e := range entries {
		part := img[tableOffset+i*entryLen:]
		startCHS := chs(e.Start)
		endCHS := chs(e.End)
		copy(part[0x1:0x4], startCHS[:])
		part[0x4] = e.Type
		copy(part[0x5:0x8], endCHS[:])
		binary.LittleEndian.PutUint32(part[0x8:], uint32(e.Start))
		binary.LittleEndian.PutUint32(part[0xC:], uint32(e.End-e.Start))
	}
	img[0x1FE] = 0x55
	img[0x1FF] = 0xAA
	return img
}

// Decode parses a 512-byte MBR image back into its entries and serial.
// Empty slots (type and sector count both zero) are skipped.
func Decode(img []byte) ([]Entry, uint32, error) {
	if len(img) != Size {
		return nil, 0, errors.Errorf("MBR image must be %d bytes, got %d", Size, len(img))
	}
	if img[0x1FE] != 0x55 || img[0x1FF] != 0xAA {
		return nil, 0, errors.Errorf("missing boot signature: %#02x %#02x", img[0x1FE], img[0x1FF])
	}
	serial := binary.LittleEndian.Uint32(img[serialOffset:])
	var entries []Entry
	for i := 0; i < 4; i++ {
		part := img[tableOffset+i*entryLen:]
		count := binary.LittleEndian.Uint32(part[0xC:])
		if part[0x4] == 0 && count == 0 {
			continue
		}
		start := binary.LittleEndian.Uint32(part[0x8:])
		entries = append(entries, Entry{
			Start: uint64(start),
			End:   uint64(start) + uint64(count),
			Type:  part[0x4],
		})
	}
	return entries, serial, nil
}

// Write derives the layout from the bad-region envelope, stamps a fresh
// random serial, and writes the image to sector 0 of the device.
func Write(dev device.Device, firstBad, lastBad, size uint64) error {
	entries := Layout(firstBad, lastBad, size)
	serial := rand.Uint32()
	img := Encode(entries, serial)
	zap.L().Info("writing partition table",
		zap.Uint64("firstBad", firstBad),
		zap.Uint64("lastBad", lastBad),
		zap.Int("entries", len(entries)),
		zap.Uint32("serial", serial))
	if err := dev.Seek(0); err != nil {
		return errors.Wrap(err, "seek to MBR")
	}
	if err := dev.Write(img); err != nil {
		return errors.Wrap(err, "write MBR")
	}
	return nil
}
