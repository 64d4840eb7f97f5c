// Package ogg implements a minimal Ogg container muxer for Opus audio.
//
// The muxer emits the standard three-part stream layout: a beginning-of-stream
// page carrying the OpusHead identification header, a comment page carrying
// OpusTags, then one audio packet per page. Granule positions count 48 kHz
// samples as required by RFC 7845, and the end-of-stream flag is set on the
// final audio page.
package ogg

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	headerTypeContinued = 0x01
	headerTypeBOS       = 0x02
	headerTypeEOS       = 0x04

	// preSkip is the encoder lookahead at 48 kHz declared in OpusHead.
	preSkip = 312

	vendor = "wavecast"
)

// Writer muxes Opus packets into an Ogg stream. Not safe for concurrent use;
// the encode stage is the single producer.
type Writer struct {
	w       io.Writer
	serial  uint32
	pageSeq uint32
	granule uint64

	// pending holds the last submitted packet so the final page can carry the
	// EOS flag. pendingSamples is its duration in 48 kHz samples.
	pending        []byte
	pendingSamples int
	closed         bool
}

// NewWriter writes the OpusHead and OpusTags pages to w and returns a muxer
// ready to accept audio packets. channels must be 1 or 2; inputSampleRate is
// the original capture rate recorded in the identification header.
func NewWriter(w io.Writer, serial uint32, channels, inputSampleRate int) (*Writer, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("ogg: channel count %d out of range", channels)
	}
	if inputSampleRate <= 0 {
		return nil, fmt.Errorf("ogg: input sample rate %d out of range", inputSampleRate)
	}

	ow := &Writer{w: w, serial: serial}
	if err := ow.writePage(opusHead(channels, inputSampleRate), headerTypeBOS, 0); err != nil {
		return nil, fmt.Errorf("ogg: write OpusHead: %w", err)
	}
	if err := ow.writePage(opusTags(), 0, 0); err != nil {
		return nil, fmt.Errorf("ogg: write OpusTags: %w", err)
	}
	return ow, nil
}

// WritePacket submits one Opus packet of the given duration in 48 kHz
// samples. The packet is buffered until the next submission so the last page
// of the stream can be flagged end-of-stream by [Writer.Close].
func (m *Writer) WritePacket(packet []byte, samples int) error {
	if m.closed {
		return fmt.Errorf("ogg: write after close")
	}
	if len(packet) == 0 {
		return nil
	}
	if err := m.flushPending(0); err != nil {
		return err
	}
	m.pending = append(m.pending[:0], packet...)
	m.pendingSamples = samples
	return nil
}

// Close flushes the buffered final packet with the EOS flag set. If no audio
// packet was ever written, an empty EOS page terminates the stream.
func (m *Writer) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	if m.pending == nil {
		return m.writePage(nil, headerTypeEOS, m.granule)
	}
	return m.flushPending(headerTypeEOS)
}

// flushPending writes the buffered packet, if any, as a single page.
func (m *Writer) flushPending(headerType byte) error {
	if m.pending == nil {
		return nil
	}
	m.granule += uint64(m.pendingSamples)
	err := m.writePage(m.pending, headerType, m.granule)
	m.pending = nil
	m.pendingSamples = 0
	if err != nil {
		return fmt.Errorf("ogg: write audio page: %w", err)
	}
	return nil
}

// writePage emits one complete Ogg page holding a single packet.
func (m *Writer) writePage(packet []byte, headerType byte, granule uint64) error {
	segments := lacing(len(packet))

	page := make([]byte, 0, 27+len(segments)+len(packet))
	page = append(page, 'O', 'g', 'g', 'S', 0, headerType)
	page = binary.LittleEndian.AppendUint64(page, granule)
	page = binary.LittleEndian.AppendUint32(page, m.serial)
	page = binary.LittleEndian.AppendUint32(page, m.pageSeq)
	page = append(page, 0, 0, 0, 0) // CRC placeholder
	page = append(page, byte(len(segments)))
	page = append(page, segments...)
	page = append(page, packet...)

	binary.LittleEndian.PutUint32(page[22:26], crc(page))

	m.pageSeq++
	if _, err := m.w.Write(page); err != nil {
		return err
	}
	return nil
}

// lacing builds the segment table for a single packet of length n.
func lacing(n int) []byte {
	segs := make([]byte, 0, n/255+1)
	for n >= 255 {
		segs = append(segs, 255)
		n -= 255
	}
	return append(segs, byte(n))
}

// opusHead builds the RFC 7845 identification header payload.
func opusHead(channels, inputSampleRate int) []byte {
	h := make([]byte, 0, 19)
	h = append(h, "OpusHead"...)
	h = append(h, 1) // version
	h = append(h, byte(channels))
	h = binary.LittleEndian.AppendUint16(h, preSkip)
	h = binary.LittleEndian.AppendUint32(h, uint32(inputSampleRate))
	h = binary.LittleEndian.AppendUint16(h, 0) // output gain
	h = append(h, 0)                           // channel mapping family
	return h
}

// opusTags builds the comment header payload with no user comments.
func opusTags() []byte {
	t := make([]byte, 0, 8+4+len(vendor)+4)
	t = append(t, "OpusTags"...)
	t = binary.LittleEndian.AppendUint32(t, uint32(len(vendor)))
	t = append(t, vendor...)
	t = binary.LittleEndian.AppendUint32(t, 0)
	return t
}

// crcTable is the Ogg page checksum table: CRC-32 with polynomial 0x04c11db7,
// no bit reflection, zero initial value, zero final XOR.
var crcTable = func() [256]uint32 {
	var tab [256]uint32
	for i := range tab {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		tab[i] = r
	}
	return tab
}()

// crc computes the Ogg page checksum over a page whose CRC field is zeroed.
func crc(page []byte) uint32 {
	var sum uint32
	for _, b := range page {
		sum = (sum << 8) ^ crcTable[byte(sum>>24)^b]
	}
	return sum
}
