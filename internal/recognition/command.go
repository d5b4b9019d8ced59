package recognition

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Message types exchanged with an external recognizer
const (
	MsgInit    = "init"
	MsgReady   = "ready"
	MsgProcess = "process"
	MsgResult  = "result"
	MsgPartial = "partial"
	MsgReset   = "reset"
	MsgError   = "error"
)

// WireMessage is one line of the recognizer protocol. PCM carries signed
// 16-bit little-endian samples and is base64 encoded by encoding/json.
type WireMessage struct {
	Type       string `json:"type"`
	ModelPath  string `json:"model_path,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	PCM        []byte `json:"pcm,omitempty"`
	Text       string `json:"text,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CommandConfig names the recognizer executable
type CommandConfig struct {
	Command string
	Args    []string
}

// CommandEngine drives an external recognizer process. Each request line on
// stdin gets exactly one reply line on stdout, except reset which has none.
type CommandEngine struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *slog.Logger

	replies chan WireMessage
	done    chan struct{} // closed when stdout reaches EOF
	closed  chan struct{} // closed by Close

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// CommandFactory returns a Factory that starts the configured recognizer and
// performs the init handshake.
func CommandFactory(cfg CommandConfig, logger *slog.Logger) Factory {
	return func(ctx context.Context, modelPath string, sampleRate int) (Engine, error) {
		return StartCommandEngine(ctx, cfg, modelPath, sampleRate, logger)
	}
}

// StartCommandEngine launches the recognizer and waits for its ready reply
func StartCommandEngine(ctx context.Context, cfg CommandConfig, modelPath string, sampleRate int, logger *slog.Logger) (*CommandEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	path := strings.TrimSpace(cfg.Command)
	if path == "" {
		return nil, fmt.Errorf("recognizer command is empty")
	}

	cmd := exec.Command(path, cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open recognizer stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open recognizer stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open recognizer stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start recognizer %q: %w", path, err)
	}

	e := &CommandEngine{
		cmd:     cmd,
		stdin:   stdin,
		logger:  logger.With(slog.String("component", "recognizer"), slog.Int("pid", cmd.Process.Pid)),
		replies: make(chan WireMessage, 1),
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
	}

	go e.readReplies(stdout)
	go e.logStderr(stderr)

	if err := e.handshake(ctx, modelPath, sampleRate); err != nil {
		e.Close()
		return nil, err
	}

	e.logger.Info("Recognizer ready", slog.String("command", path), slog.String("model_path", modelPath))
	return e, nil
}

func (e *CommandEngine) handshake(ctx context.Context, modelPath string, sampleRate int) error {
	if err := e.send(WireMessage{Type: MsgInit, ModelPath: modelPath, SampleRate: sampleRate}); err != nil {
		return err
	}

	select {
	case reply := <-e.replies:
		switch reply.Type {
		case MsgReady:
			return nil
		case MsgError:
			return fmt.Errorf("recognizer init failed: %s", reply.Error)
		default:
			return fmt.Errorf("unexpected recognizer reply to init: %q", reply.Type)
		}
	case <-e.done:
		return fmt.Errorf("recognizer exited during init: %w", ErrEngineClosed)
	case <-ctx.Done():
		return fmt.Errorf("recognizer init: %w", ctx.Err())
	}
}

// readReplies decodes stdout lines until EOF
func (e *CommandEngine) readReplies(r io.Reader) {
	defer close(e.done)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var msg WireMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			e.logger.Debug("Skipping malformed recognizer line", slog.String("error", err.Error()))
			continue
		}
		select {
		case e.replies <- msg:
		case <-e.closed:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		e.logger.Debug("Recognizer stdout closed", slog.String("error", err.Error()))
	}
}

func (e *CommandEngine) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			e.logger.Debug("Recognizer stderr", slog.String("line", line))
		}
	}
}

func (e *CommandEngine) send(msg WireMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}
	data = append(data, '\n')

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	select {
	case <-e.done:
		return ErrEngineClosed
	case <-e.closed:
		return ErrEngineClosed
	default:
	}

	if _, err := e.stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write %s message: %w", msg.Type, err)
	}
	return nil
}

// AcceptWaveform sends one process request and waits for its reply
func (e *CommandEngine) AcceptWaveform(pcm []int16) (Transcript, error) {
	payload := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(payload[i*2:], uint16(s))
	}

	if err := e.send(WireMessage{Type: MsgProcess, PCM: payload}); err != nil {
		return Transcript{}, err
	}

	select {
	case reply := <-e.replies:
		switch reply.Type {
		case MsgResult:
			return Transcript{Text: reply.Text, Final: true}, nil
		case MsgPartial:
			return Transcript{Text: reply.Text}, nil
		case MsgError:
			return Transcript{}, fmt.Errorf("recognizer error: %s", reply.Error)
		default:
			return Transcript{}, fmt.Errorf("unexpected recognizer reply %q: %w", reply.Type, ErrNoTranscript)
		}
	case <-e.done:
		return Transcript{}, ErrEngineClosed
	case <-e.closed:
		return Transcript{}, ErrEngineClosed
	}
}

// Reset asks the recognizer to drop its acoustic context. No reply is expected.
func (e *CommandEngine) Reset() error {
	return e.send(WireMessage{Type: MsgReset})
}

// Close kills the recognizer process. Repeated calls return nil.
func (e *CommandEngine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		e.stdin.Close()
		if e.cmd.Process != nil {
			if killErr := e.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
				err = fmt.Errorf("failed to stop recognizer: %w", killErr)
			}
		}
		// Reap the process; the kill makes Wait report a signal exit
		go e.cmd.Wait()
		e.logger.Debug("Recognizer stopped")
	})
	return err
}
