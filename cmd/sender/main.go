// Command sender streams a mono 16-bit WAV file to the service over the
// TLV UDP protocol, the way a capture device would.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skypro1111/voice-activation-service/internal/audio"
	"github.com/skypro1111/voice-activation-service/internal/protocol"
)

type streamConfig struct {
	StreamID   uint32
	Encoding   uint8
	DeviceID   string
	Label      string
	SampleRate int
	Frame      time.Duration
	Realtime   bool
}

// stream writes an open packet, the samples as audio packets of one frame
// each, and a close packet. It stops early when ctx ends but still sends
// the close packet.
func stream(ctx context.Context, w io.Writer, cfg streamConfig, samples []float32) (int, error) {
	frameSamples := int(cfg.Frame.Seconds() * float64(cfg.SampleRate))
	if frameSamples < 1 {
		return 0, fmt.Errorf("frame of %v is shorter than one sample at %d Hz", cfg.Frame, cfg.SampleRate)
	}

	open := protocol.BuildOpenPacket(cfg.StreamID, cfg.Encoding, cfg.DeviceID, cfg.Label,
		uint32(cfg.SampleRate), uint32(time.Now().Unix()))
	if _, err := w.Write(open); err != nil {
		return 0, fmt.Errorf("failed to send open packet: %w", err)
	}

	var ticker *time.Ticker
	if cfg.Realtime {
		ticker = time.NewTicker(cfg.Frame)
		defer ticker.Stop()
	}

	sent := 0
	var seq uint32
loop:
	for start := 0; start < len(samples); start += frameSamples {
		end := min(start+frameSamples, len(samples))
		seq++

		pkt, err := protocol.BuildAudioPacket(cfg.StreamID, cfg.Encoding, seq, samples[start:end])
		if err != nil {
			return sent, err
		}
		if _, err := w.Write(pkt); err != nil {
			return sent, fmt.Errorf("failed to send audio packet %d: %w", seq, err)
		}
		sent++

		if ticker == nil {
			continue
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			break loop
		}
	}

	if _, err := w.Write(protocol.BuildClosePacket(cfg.StreamID, cfg.Encoding)); err != nil {
		return sent, fmt.Errorf("failed to send close packet: %w", err)
	}
	return sent, nil
}

func parseEncoding(name string) (uint8, error) {
	switch name {
	case "pcm16":
		return protocol.EncodingPCM16, nil
	case "float32":
		return protocol.EncodingFloat32, nil
	default:
		return 0, fmt.Errorf("unknown encoding %q, want pcm16 or float32", name)
	}
}

func main() {
	addr := flag.String("addr", "127.0.0.1:4444", "Service UDP address")
	file := flag.String("file", "", "Mono 16-bit WAV file to stream")
	streamID := flag.Uint("stream", 1, "Stream ID")
	device := flag.String("device", "sender", "Device ID")
	label := flag.String("label", "", "Stream label")
	encoding := flag.String("encoding", "pcm16", "Sample encoding: pcm16 or float32")
	frame := flag.Duration("frame", 20*time.Millisecond, "Audio per packet")
	realtime := flag.Bool("realtime", true, "Pace packets at playback speed")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *file == "" {
		fmt.Fprintln(os.Stderr, "-file is required")
		flag.Usage()
		os.Exit(2)
	}

	enc, err := parseEncoding(*encoding)
	if err != nil {
		logger.Error("Invalid encoding", slog.String("error", err.Error()))
		os.Exit(2)
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		logger.Error("Failed to read WAV file", slog.String("error", err.Error()))
		os.Exit(1)
	}
	pcm, rate, err := audio.DecodeWAV(data)
	if err != nil {
		logger.Error("Failed to decode WAV file", slog.String("error", err.Error()))
		os.Exit(1)
	}

	conn, err := net.Dial("udp", *addr)
	if err != nil {
		logger.Error("Failed to connect", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := streamConfig{
		StreamID:   uint32(*streamID),
		Encoding:   enc,
		DeviceID:   *device,
		Label:      *label,
		SampleRate: rate,
		Frame:      *frame,
		Realtime:   *realtime,
	}

	logger.Info("Streaming",
		slog.String("file", *file),
		slog.String("addr", *addr),
		slog.Uint64("stream_id", uint64(cfg.StreamID)),
		slog.Int("sample_rate", rate),
		slog.Duration("duration", time.Duration(len(pcm))*time.Second/time.Duration(rate)))

	sent, err := stream(ctx, conn, cfg, audio.PCM16ToFloats(pcm))
	if err != nil {
		logger.Error("Streaming failed", slog.Int("packets", sent), slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Done", slog.Int("packets", sent))
}
