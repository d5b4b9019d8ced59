package server

import (
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/voice-activation-service/internal/config"
	"github.com/skypro1111/voice-activation-service/internal/metrics"
	"github.com/skypro1111/voice-activation-service/internal/protocol"
)

func TestWorkerForKeepsStreamOnOneWorker(t *testing.T) {
	open := protocol.BuildOpenPacket(42, protocol.EncodingPCM16, "kitchen", "mic", 16000, 0)
	audioPkt, err := protocol.BuildAudioPacket(42, protocol.EncodingPCM16, 1, make([]float32, 160))
	if err != nil {
		t.Fatalf("BuildAudioPacket failed: %v", err)
	}
	closePkt := protocol.BuildClosePacket(42, protocol.EncodingPCM16)

	want := workerFor(open)
	if got := workerFor(audioPkt); got != want {
		t.Errorf("Audio packet routed to worker %d, open packet to %d", got, want)
	}
	if got := workerFor(closePkt); got != want {
		t.Errorf("Close packet routed to worker %d, open packet to %d", got, want)
	}
	if got := workerFor([]byte{1, 2}); got != 0 {
		t.Errorf("Expected short packet on worker 0, got %d", got)
	}

	seen := make(map[int]bool)
	for id := uint32(0); id < numWorkers; id++ {
		seen[workerFor(protocol.BuildClosePacket(id, protocol.EncodingPCM16))] = true
	}
	if len(seen) != numWorkers {
		t.Errorf("Expected consecutive streams to spread over %d workers, got %d", numWorkers, len(seen))
	}
}

func startTestUDPServer(t *testing.T) (*UDPServer, *net.UDPConn, *metrics.Metrics) {
	t.Helper()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	mgr := newTestManager(t, m)

	cfg := &config.ServerConfig{
		UDPPort:     0,
		BindAddress: "127.0.0.1",
		BufferSize:  65536,
		MaxSessions: 8,
	}
	srv := NewUDPServer(cfg, nil, mgr, m)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	conn, err := net.DialUDP("udp", nil, srv.Addr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return srv, conn, m
}

func send(t *testing.T, conn *net.UDPConn, packet []byte) {
	t.Helper()
	if _, err := conn.Write(packet); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func TestUDPServerStreamLifecycle(t *testing.T) {
	srv, conn, m := startTestUDPServer(t)
	mgr := srv.sessions

	send(t, conn, protocol.BuildOpenPacket(7, protocol.EncodingFloat32, "living-room", "ceiling", 16000, 1000))
	waitFor(t, "session open", func() bool { return mgr.ActiveCount() == 1 })

	sess, ok := mgr.Get(7)
	if !ok {
		t.Fatal("Expected session for stream 7")
	}
	if info := sess.Info(); info.DeviceID != "living-room" || info.Label != "ceiling" {
		t.Errorf("Unexpected session info: %+v", info)
	}

	for seq := uint32(1); seq <= 3; seq++ {
		pkt, err := protocol.BuildAudioPacket(7, protocol.EncodingFloat32, seq, make([]float32, 1600))
		if err != nil {
			t.Fatalf("BuildAudioPacket failed: %v", err)
		}
		send(t, conn, pkt)
	}
	waitFor(t, "frames processed", func() bool { return sess.Stats().FramesProcessed == 3 })

	if got := sess.Stats().LastSequence; got != 3 {
		t.Errorf("Expected last sequence 3, got %d", got)
	}

	send(t, conn, protocol.BuildClosePacket(7, protocol.EncodingFloat32))
	waitFor(t, "session close", func() bool { return mgr.ActiveCount() == 0 })

	stats := srv.GetStatistics()
	if stats.PacketsProcessed != 5 {
		t.Errorf("Expected 5 processed packets, got %d", stats.PacketsProcessed)
	}
	if got := testutil.ToFloat64(m.PacketsReceived); got != 5 {
		t.Errorf("Expected 5 received packets in metrics, got %v", got)
	}
}

func TestUDPServerCountsBadPackets(t *testing.T) {
	srv, conn, _ := startTestUDPServer(t)

	send(t, conn, []byte{0xFF, 0x00, 0x01})
	waitFor(t, "parse error", func() bool { return srv.GetStatistics().ParseErrors == 1 })

	pkt, err := protocol.BuildAudioPacket(99, protocol.EncodingPCM16, 1, make([]float32, 160))
	if err != nil {
		t.Fatalf("BuildAudioPacket failed: %v", err)
	}
	send(t, conn, pkt)
	waitFor(t, "unknown stream", func() bool { return srv.GetStatistics().UnknownStream == 1 })

	if srv.GetStatistics().ActiveSessions != 0 {
		t.Error("Expected no sessions for audio without open")
	}
}
