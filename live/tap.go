package live

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/RyanBlaney/memoscope/logging"
	"github.com/RyanBlaney/memoscope/transcode"
)

const (
	wavHeaderSize = 44
	tailBytes     = 8192
	// recorder output when the header can't be read yet
	defaultTapChannels = 2
)

// FileTap polls a WAV file that is still being written and feeds its
// most recent 16-bit PCM to a Pipeline. It avoids opening the capture
// device a second time while the recorder owns it.
type FileTap struct {
	pipeline *Pipeline
	interval time.Duration
	logger   logging.Logger

	mu       sync.Mutex
	path     string
	channels int
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewFileTap creates a tap that polls every interval (50ms when <= 0)
func NewFileTap(pipeline *Pipeline, interval time.Duration) *FileTap {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &FileTap{
		pipeline: pipeline,
		interval: interval,
		logger: logging.WithFields(logging.Fields{
			"component": "live_file_tap",
		}),
	}
}

// Start begins polling path. A running tap is stopped first.
func (t *FileTap) Start(ctx context.Context, path string) {
	t.Stop()

	t.pipeline.Start()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	t.mu.Lock()
	t.path = path
	t.channels = 0
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	t.logger.Info("Polling recording file", logging.Fields{"path": path, "interval": t.interval.String()})
	go t.loop(runCtx, done)
}

// Stop halts polling, waits for the poll goroutine to exit and resets
// the pipeline, which drops the meter to zero
func (t *FileTap) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.path = ""
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	t.pipeline.Stop()
}

// Active reports whether the tap is polling
func (t *FileTap) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

func (t *FileTap) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Poll()
		}
	}
}

// Poll reads the tail of the file once and feeds it to the pipeline.
// Missing files, short files and I/O errors skip the cycle. It reports
// whether a chunk was processed.
func (t *FileTap) Poll() bool {
	t.mu.Lock()
	path, channels := t.path, t.channels
	t.mu.Unlock()
	if path == "" {
		return false
	}

	if channels == 0 {
		channels = transcode.ReadWAVChannels(path, 0)
		if channels > 0 {
			t.mu.Lock()
			t.channels = channels
			t.mu.Unlock()
		} else {
			channels = defaultTapChannels
		}
	}

	samples, err := readTail(path, channels)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, errShortFile) {
			t.logger.Debug("Skipping poll", logging.Fields{"error": err.Error()})
		}
		return false
	}

	t.pipeline.ProcessChunk(samples, channels)
	return true
}

var errShortFile = errors.New("no audio data yet")

// readTail returns up to tailBytes of frame-aligned 16-bit PCM from the
// end of a WAV file, normalized to [-1, 1)
func readTail(path string, channels int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	frameSize := int64(2 * channels)
	dataLen := (info.Size() - wavHeaderSize) / frameSize * frameSize
	if dataLen <= 0 {
		return nil, errShortFile
	}
	n := min(dataLen, tailBytes/frameSize*frameSize)
	start := wavHeaderSize + dataLen - n

	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, start); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	return DecodePCM16(buf), nil
}

// DecodePCM16 converts little-endian signed 16-bit samples to floats in
// [-1, 1). A trailing odd byte is ignored.
func DecodePCM16(data []byte) []float64 {
	out := make([]float64, len(data)/2)
	for i := range out {
		out[i] = float64(int16(binary.LittleEndian.Uint16(data[2*i:]))) / 32768.0
	}
	return out
}
