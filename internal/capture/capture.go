// Package capture extracts UDP datagrams from pcap and pcapng files.
package capture

import (
	"io"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"
)

// Datagram is one UDP payload lifted out of a captured frame.
type Datagram struct {
	Timestamp time.Time
	SrcIP     net.IP
	DstIP     net.IP
	SrcPort   int
	DstPort   int
	Payload   []byte
}

// Reader yields the UDP datagrams of a capture file in file order.
type Reader struct {
	file    *os.File
	source  *gopacket.PacketSource
	skipped int
}

// Open reads path as pcap first and falls back to pcapng.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open capture %s", path)
	}
	if reader, err := pcapgo.NewReader(file); err == nil {
		return &Reader{file: file, source: newSource(reader, reader.LinkType())}, nil
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "rewind capture %s", path)
	}
	ngReader, err := pcapgo.NewNgReader(file, pcapgo.DefaultNgReaderOptions)
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "read capture %s as pcap or pcapng", path)
	}
	return &Reader{file: file, source: newSource(ngReader, ngReader.LinkType())}, nil
}

func newSource(data gopacket.PacketDataSource, linkType layers.LinkType) *gopacket.PacketSource {
	source := gopacket.NewPacketSource(data, linkType)
	// pcapgo hands out freshly allocated packet data, so NoCopy is safe.
	source.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}
	return source
}

// Next returns the next UDP datagram, skipping frames that carry anything
// else. io.EOF marks the end of the capture.
func (r *Reader) Next() (Datagram, error) {
	for {
		packet, err := r.source.NextPacket()
		if err != nil {
			if err == io.EOF {
				return Datagram{}, io.EOF
			}
			return Datagram{}, errors.Wrap(err, "read capture packet")
		}
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			r.skipped++
			continue
		}
		udp := udpLayer.(*layers.UDP)
		var srcIP, dstIP net.IP
		switch network := packet.NetworkLayer().(type) {
		case *layers.IPv4:
			srcIP, dstIP = network.SrcIP, network.DstIP
		case *layers.IPv6:
			srcIP, dstIP = network.SrcIP, network.DstIP
		default:
			r.skipped++
			continue
		}
		payload := make([]byte, len(udp.Payload))
		copy(payload, udp.Payload)
		return Datagram{
			Timestamp: packet.Metadata().Timestamp,
			SrcIP:     srcIP,
			DstIP:     dstIP,
			SrcPort:   int(udp.SrcPort),
			DstPort:   int(udp.DstPort),
			Payload:   payload,
		}, nil
	}
}

// Skipped returns how many non-UDP frames Next has passed over.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}
