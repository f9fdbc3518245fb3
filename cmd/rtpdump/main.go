package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"rtp-header-probe/internal/capture"
	"rtp-header-probe/pkg/rtp"
)

type config struct {
	pcapPath  string
	port      int
	ssrc      uint32
	ssrcSet   bool
	max       int
	statsOnly bool
}

type stats struct {
	datagrams          int
	parsed             int
	matched            int
	filteredOut        int
	headerTooSmall     int
	csrcTruncated      int
	extensionMissing   int
	extensionTruncated int
}

type streamKey struct {
	ssrc        uint32
	payloadType uint8
}

type sourceStats struct {
	packets       int
	firstSequence uint16
	lastSequence  uint16
	markers       int
	extensions    int
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(cfg, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (config, error) {
	var cfg config
	flags := flag.NewFlagSet("rtpdump", flag.ContinueOnError)
	flags.SetOutput(os.Stderr)
	flags.StringVar(&cfg.pcapPath, "pcap", "", "PCAP or PCAPNG file to read")
	flags.IntVar(&cfg.port, "port", 0, "Only inspect datagrams to or from this UDP port")
	ssrcRaw := flags.String("ssrc", "", "Only print packets with this RTP SSRC (hex or decimal)")
	flags.IntVar(&cfg.max, "max", 0, "Print at most N packet lines (0 prints all)")
	flags.BoolVar(&cfg.statsOnly, "stats-only", false, "Suppress per-packet lines, print only source and summary stats")
	if err := flags.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.pcapPath == "" {
		return cfg, errors.New("pcap is required")
	}
	if cfg.port < 0 || cfg.port > 65535 {
		return cfg, fmt.Errorf("invalid port: %d", cfg.port)
	}
	if cfg.max < 0 {
		return cfg, fmt.Errorf("invalid max: %d", cfg.max)
	}
	if *ssrcRaw != "" {
		parsed, err := parseSSRC(*ssrcRaw)
		if err != nil {
			return cfg, fmt.Errorf("invalid ssrc: %w", err)
		}
		cfg.ssrc = parsed
		cfg.ssrcSet = true
	}
	return cfg, nil
}

func parseSSRC(value string) (uint32, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, errors.New("empty ssrc")
	}
	base := 10
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		base = 0
	} else if strings.IndexFunc(trimmed, func(r rune) bool { return (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F') }) != -1 {
		base = 16
	}
	parsed, err := strconv.ParseUint(trimmed, base, 32)
	if err != nil {
		return 0, err
	}
	return uint32(parsed), nil
}

func run(cfg config, out io.Writer) error {
	reader, err := capture.Open(cfg.pcapPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	var stats stats
	sources := make(map[streamKey]*sourceStats)
	printed := 0
	for {
		datagram, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		stats.datagrams++
		if cfg.port != 0 && datagram.SrcPort != cfg.port && datagram.DstPort != cfg.port {
			stats.filteredOut++
			continue
		}
		header, err := rtp.ParseHeader(datagram.Payload)
		if err != nil {
			countParseError(&stats, err)
			continue
		}
		stats.parsed++
		if cfg.ssrcSet && header.SSRC != cfg.ssrc {
			stats.filteredOut++
			continue
		}
		stats.matched++

		key := streamKey{ssrc: header.SSRC, payloadType: header.Info.PayloadType()}
		source, ok := sources[key]
		if !ok {
			source = &sourceStats{firstSequence: header.Sequence}
			sources[key] = source
		}
		source.packets++
		source.lastSequence = header.Sequence
		if header.Info.HasMarker() {
			source.markers++
		}
		if header.Extension != nil {
			source.extensions++
		}

		if !cfg.statsOnly && (cfg.max == 0 || printed < cfg.max) {
			fmt.Fprintf(
				out,
				"%s %s:%d -> %s:%d %s payload=%d\n",
				datagram.Timestamp.UTC().Format("15:04:05.000000"),
				datagram.SrcIP,
				datagram.SrcPort,
				datagram.DstIP,
				datagram.DstPort,
				header,
				len(datagram.Payload)-header.Size(),
			)
			printed++
		}
	}

	printSources(out, sources)
	printSummary(out, &stats, reader.Skipped())
	return nil
}

func countParseError(stats *stats, err error) {
	switch {
	case errors.Is(err, rtp.ErrHeaderTooSmall):
		stats.headerTooSmall++
	case errors.Is(err, rtp.ErrInsufficientCSRCData):
		stats.csrcTruncated++
	case errors.Is(err, rtp.ErrExtensionHeaderMissing):
		stats.extensionMissing++
	case errors.Is(err, rtp.ErrInsufficientExtensionData):
		stats.extensionTruncated++
	}
}

func printSources(out io.Writer, sources map[streamKey]*sourceStats) {
	keys := make([]streamKey, 0, len(sources))
	for key := range sources {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ssrc != keys[j].ssrc {
			return keys[i].ssrc < keys[j].ssrc
		}
		return keys[i].payloadType < keys[j].payloadType
	})
	for _, key := range keys {
		source := sources[key]
		fmt.Fprintf(
			out,
			"ssrc=0x%08x payload_type=%d packets=%d first_seq=%d last_seq=%d markers=%d extensions=%d\n",
			key.ssrc,
			key.payloadType,
			source.packets,
			source.firstSequence,
			source.lastSequence,
			source.markers,
			source.extensions,
		)
	}
}

func printSummary(out io.Writer, stats *stats, skippedFrames int) {
	fmt.Fprintln(out, "rtpdump summary")
	fmt.Fprintf(out, "datagrams=%d\n", stats.datagrams)
	fmt.Fprintf(out, "parsed=%d\n", stats.parsed)
	fmt.Fprintf(out, "matched=%d\n", stats.matched)
	fmt.Fprintf(out, "filtered_out=%d\n", stats.filteredOut)
	fmt.Fprintf(out, "header_too_small=%d\n", stats.headerTooSmall)
	fmt.Fprintf(out, "csrc_truncated=%d\n", stats.csrcTruncated)
	fmt.Fprintf(out, "extension_missing=%d\n", stats.extensionMissing)
	fmt.Fprintf(out, "extension_truncated=%d\n", stats.extensionTruncated)
	fmt.Fprintf(out, "skipped_frames=%d\n", skippedFrames)
}
