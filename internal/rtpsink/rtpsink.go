// Package rtpsink transmits Opus packets as RTP over UDP.
//
// The sender is a best-effort unicast sink: no control channel, no
// retransmission, no receiver feedback. Packet loss handling is entirely the
// receiver's concern.
package rtpsink

import (
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"

	"github.com/pion/rtp"
)

const (
	// DefaultPort is the well-known RTP port used when the destination does
	// not specify one.
	DefaultPort = 5004

	// payloadTypeOpus is the dynamic RTP payload type conventionally used
	// for Opus.
	payloadTypeOpus = 111
)

// Sender packetizes Opus frames and writes them to a UDP destination.
// Not safe for concurrent use; the pipeline's payload stage is the single
// producer.
type Sender struct {
	conn      *net.UDPConn
	ssrc      uint32
	seq       uint16
	timestamp uint32
	sentFirst bool
}

// NewSender dials the UDP destination. port 0 selects [DefaultPort].
// The SSRC and initial sequence number are randomized per RFC 3550.
func NewSender(host string, port int) (*Sender, error) {
	if host == "" {
		return nil, fmt.Errorf("rtpsink: empty destination host")
	}
	if port == 0 {
		port = DefaultPort
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("rtpsink: resolve %s:%d: %w", host, port, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("rtpsink: dial %s: %w", addr, err)
	}
	return &Sender{
		conn:      conn,
		ssrc:      rand.Uint32(),
		seq:       uint16(rand.Uint32()),
		timestamp: rand.Uint32(),
	}, nil
}

// WritePacket sends one Opus packet whose duration is samples at 48 kHz.
// The marker bit is set on the first packet of the stream.
func (s *Sender) WritePacket(opusData []byte, samples int) error {
	if len(opusData) == 0 {
		return nil
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         !s.sentFirst,
			PayloadType:    payloadTypeOpus,
			SequenceNumber: s.seq,
			Timestamp:      s.timestamp,
			SSRC:           s.ssrc,
		},
		Payload: opusData,
	}

	raw, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("rtpsink: marshal packet: %w", err)
	}
	if _, err := s.conn.Write(raw); err != nil {
		return fmt.Errorf("rtpsink: send packet: %w", err)
	}

	s.sentFirst = true
	s.seq++
	s.timestamp += uint32(samples)
	return nil
}

// Close releases the UDP socket.
func (s *Sender) Close() error {
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("rtpsink: close socket: %w", err)
	}
	return nil
}
