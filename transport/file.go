package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/leemit/actor-framework/internal/config"
	"github.com/leemit/actor-framework/internal/telemetry"
)

//////////////
//  CONFIG  //
//////////////

// Default values for the replay transport configuration.
const (
	DefaultReplayConfigPath = "capture.bin"
)

// ReplayConfig structs contains the configuration for the replay transport.
type ReplayConfig struct {
	// Path is the path of the capture file to replay.
	Path string

	// Follow keeps the transport open at the end of the capture,
	// waiting for more records to be appended. When disabled,
	// reaching the end of the capture closes the transport.
	Follow bool
}

// NewReplayConfig returns the default configuration for the replay transport.
func NewReplayConfig() *ReplayConfig {
	return &ReplayConfig{
		Path:   DefaultReplayConfigPath,
		Follow: false,
	}
}

// Validate checks the configuration.
func (c *ReplayConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckNotEmpty(ac, "Path", &c.Path, DefaultReplayConfigPath)
}

/////////////////
//  TRANSPORT  //
/////////////////

var _ Transport = (*Replay)(nil)

// Replay is a read-only transport that replays datagrams recorded in a
// capture file. Each record is a 4 byte big-endian length followed by
// the datagram bytes, see WriteCaptureRecord. In follow mode the
// transport watches the file and keeps replaying records as they are
// appended.
type Replay struct {
	tel *telemetry.Telemetry

	cfg *ReplayConfig

	file    *os.File
	watcher *fsnotify.Watcher

	readTimeout time.Duration

	recvBuf *Buffer
	sendBuf *Buffer
	scratch []byte

	// Metrics
	replayedMessages atomic.Int64
	replayedBytes    atomic.Int64
}

// NewReplay returns a new replay transport reading from the configured
// capture file.
func NewReplay(cfg *ReplayConfig) (*Replay, error) {
	tel := telemetry.NewTelemetry("transport", "replay")

	configValidator := config.NewValidator(tel)
	configValidator.Validate(cfg)

	file, err := os.Open(cfg.Path)
	if err != nil {
		return nil, err
	}

	r := &Replay{
		tel: tel,

		cfg: cfg,

		file: file,

		recvBuf: NewBuffer(),
		sendBuf: NewBuffer(),
		scratch: make([]byte, maxDatagramSize),
	}

	if cfg.Follow {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			file.Close()
			return nil, err
		}

		// Watch the directory, the file itself may be replaced.
		if err := watcher.Add(filepath.Dir(cfg.Path)); err != nil {
			watcher.Close()
			file.Close()
			return nil, err
		}

		r.watcher = watcher
	}

	r.initMetrics()

	return r, nil
}

func (r *Replay) initMetrics() {
	r.tel.NewCounter("replayed_messages", func() int64 { return r.replayedMessages.Load() })
	r.tel.NewCounter("replayed_bytes", func() int64 { return r.replayedBytes.Load() })
}

// SetReadTimeout bounds the time a single ReadSome may wait
// for new records in follow mode.
func (r *Replay) SetReadTimeout(timeout time.Duration) {
	r.readTimeout = timeout
}

// ReadSome reads the next recorded datagram into the receive buffer.
// At the end of the capture it returns ErrClosed, or waits for more
// records in follow mode.
func (r *Replay) ReadSome() error {
	for {
		err := r.readRecord()
		if err == nil {
			return nil
		}

		if !errors.Is(err, io.EOF) {
			return err
		}

		if r.watcher == nil {
			return ErrClosed
		}

		if err := r.waitForAppend(); err != nil {
			return err
		}
	}
}

// readRecord reads one length-prefixed record. A partially appended
// record rewinds the file and reports io.EOF so the caller can retry.
func (r *Replay) readRecord() error {
	pos, err := r.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	rewind := func() error {
		if _, seekErr := r.file.Seek(pos, io.SeekStart); seekErr != nil {
			return seekErr
		}
		return io.EOF
	}

	var header [4]byte
	if _, err := io.ReadFull(r.file, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return rewind()
		}
		return err
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > maxDatagramSize {
		return fmt.Errorf("malformed capture record: size %d exceeds %d", size, maxDatagramSize)
	}

	if _, err := io.ReadFull(r.file, r.scratch[:size]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return rewind()
		}
		return err
	}

	r.recvBuf.Reset()
	r.recvBuf.Append(r.scratch[:size])

	// Update metrics
	r.replayedMessages.Add(1)
	r.replayedBytes.Add(int64(size))

	return nil
}

func (r *Replay) waitForAppend() error {
	var timeoutCh <-chan time.Time
	if r.readTimeout > 0 {
		timer := time.NewTimer(r.readTimeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return ErrClosed
			}

			if filepath.Clean(event.Name) != filepath.Clean(r.cfg.Path) {
				continue
			}

			if event.Op&fsnotify.Remove == fsnotify.Remove ||
				event.Op&fsnotify.Rename == fsnotify.Rename {
				return ErrClosed
			}

			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create {
				return nil
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return ErrClosed
			}
			r.tel.LogError("watcher error", err)

		case <-timeoutCh:
			return ErrReadTimeout
		}
	}
}

// WriteSome always fails, the capture is replayed as-is.
func (r *Replay) WriteSome() error {
	return ErrReadOnly
}

// ReserveSendBuffer returns the send buffer for appending.
// Flushing it fails with ErrReadOnly.
func (r *Replay) ReserveSendBuffer() *Buffer {
	return r.sendBuf
}

// ReceiveBuffer returns the buffer populated by ReadSome.
func (r *Replay) ReceiveBuffer() *Buffer {
	return r.recvBuf
}

// Close closes the capture file and the watcher.
func (r *Replay) Close() error {
	if r.watcher != nil {
		if err := r.watcher.Close(); err != nil {
			r.tel.LogError("failed to close watcher", err)
		}
	}

	return r.file.Close()
}

// WriteCaptureRecord appends one datagram to a capture stream in the
// format replayed by the Replay transport.
func WriteCaptureRecord(w io.Writer, datagram []byte) error {
	if len(datagram) > maxDatagramSize {
		return fmt.Errorf("datagram of %d bytes exceeds %d", len(datagram), maxDatagramSize)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(datagram)))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}

	_, err := w.Write(datagram)
	return err
}
