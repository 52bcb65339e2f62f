package live

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/RyanBlaney/memoscope/algorithms/spectral"
	"github.com/RyanBlaney/memoscope/logging"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logging.SetGlobalLogger(&logging.NoOpLogger{})
	os.Exit(m.Run())
}

type recordingSink struct {
	mu       sync.Mutex
	levels   []float64
	history  []float64
	matrix   [][]float64
	freqs    []float64
	clears   int
	block    chan struct{} // when set, every call waits on it
	received chan struct{}
}

func (r *recordingSink) wait() {
	if r.block != nil {
		<-r.block
	}
}

func (r *recordingSink) SetLevel(level float64) {
	r.wait()
	r.mu.Lock()
	r.levels = append(r.levels, level)
	r.mu.Unlock()
	if r.received != nil {
		select {
		case r.received <- struct{}{}:
		default:
		}
	}
}

func (r *recordingSink) SetLevelHistory(levels []float64) {
	r.wait()
	r.mu.Lock()
	r.history = levels
	r.mu.Unlock()
}

func (r *recordingSink) SetSpectrogramData(m [][]float64, f []float64) {
	r.wait()
	r.mu.Lock()
	r.matrix, r.freqs = m, f
	r.mu.Unlock()
}

func (r *recordingSink) Clear() {
	r.wait()
	r.mu.Lock()
	r.clears++
	r.mu.Unlock()
}

func (r *recordingSink) snapshotLevels() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.levels...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SampleRate = 8000
	cfg.NFFT = 256
	cfg.FreqMax = 4000
	cfg.MaxSlices = 3
	cfg.MaxLevels = 4
	return cfg
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestPipelineSmoothsLevel(t *testing.T) {
	sink := &recordingSink{}
	p, err := NewPipeline(testConfig(), sink)
	require.NoError(t, err)
	p.Start()

	assert.InDelta(t, 0.3, p.ProcessChunk(constant(256, 1), 1), 1e-12)
	assert.InDelta(t, 0.51, p.ProcessChunk(constant(256, -1), 1), 1e-12)
	assert.InDelta(t, 0.357, p.ProcessChunk(constant(256, 0), 1), 1e-12)

	assert.Len(t, sink.levels, 3)
	assert.InDelta(t, 0.357, p.Level(), 1e-12)
	assert.Len(t, p.Levels(), 3)
}

func TestPipelineMixesStereoByAveraging(t *testing.T) {
	p, err := NewPipeline(testConfig(), nil)
	require.NoError(t, err)

	// left +1, right -1 cancels to silence
	stereo := make([]float64, 512)
	for i := range stereo {
		if i%2 == 0 {
			stereo[i] = 1
		} else {
			stereo[i] = -1
		}
	}
	assert.Equal(t, 0.0, p.ProcessChunk(stereo, 2))

	slices := p.Slices()
	require.Len(t, slices, 1)
	for _, v := range slices[0] {
		assert.InDelta(t, 20*math.Log10(spectral.Epsilon), v, 1e-9)
	}
}

func TestPipelineSkipsShortChunks(t *testing.T) {
	sink := &recordingSink{}
	p, err := NewPipeline(testConfig(), sink)
	require.NoError(t, err)

	p.ProcessChunk(constant(100, 0.5), 1)
	assert.Empty(t, p.Slices())
	assert.Nil(t, sink.matrix)
	// the level still moves
	assert.InDelta(t, 0.15, p.Level(), 1e-12)

	p.ProcessChunk(nil, 1)
	assert.Len(t, p.Levels(), 1)
}

func TestPipelineRingBuffersEvictOldest(t *testing.T) {
	sink := &recordingSink{}
	p, err := NewPipeline(testConfig(), sink)
	require.NoError(t, err)

	for i := range 6 {
		p.ProcessChunk(constant(256, float64(i+1)/10), 1)
	}

	assert.Len(t, p.Slices(), 3)
	levels := p.Levels()
	require.Len(t, levels, 4)
	assert.Equal(t, sink.levels[2:], levels)
	assert.Len(t, sink.matrix, 3)
	assert.Equal(t, p.Frequencies(), sink.freqs)
	assert.Equal(t, levels, sink.history)
}

func TestPipelineSliceMatchesBatchPath(t *testing.T) {
	cfg := testConfig()
	p, err := NewPipeline(cfg, nil)
	require.NoError(t, err)

	chunk := make([]float64, 400)
	for i := range chunk {
		chunk[i] = math.Sin(2 * math.Pi * 1000 * float64(i) / float64(cfg.SampleRate))
	}
	p.ProcessChunk(chunk, 1)

	batch, err := spectral.ComputeSTFT(context.Background(), chunk[len(chunk)-cfg.NFFT:], cfg.SampleRate, cfg.NFFT, cfg.NFFT, cfg.Window)
	require.NoError(t, err)
	filtered, err := batch.Filter(cfg.FreqMin, cfg.FreqMax)
	require.NoError(t, err)

	require.Len(t, filtered.MagnitudeDB, 1)
	assert.InDeltaSlice(t, filtered.MagnitudeDB[0], p.Slices()[0], 1e-9)
}

func TestPipelineConcurrentProducers(t *testing.T) {
	cfg := testConfig()
	reference, err := NewPipeline(cfg, nil)
	require.NoError(t, err)
	p, err := NewPipeline(cfg, nil)
	require.NoError(t, err)

	chunk := make([]float64, 400)
	for i := range chunk {
		chunk[i] = 0.5 * math.Sin(2*math.Pi*1000*float64(i)/float64(cfg.SampleRate))
	}
	reference.ProcessChunk(chunk, 1)
	want := reference.Slices()[0]

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				p.ProcessChunk(chunk, 1)
				_ = p.Slices()
			}
		}()
	}
	wg.Wait()

	slices := p.Slices()
	require.NotEmpty(t, slices)
	for _, s := range slices {
		assert.InDeltaSlice(t, want, s, 1e-9)
	}
}

func TestPipelineStartStopClear(t *testing.T) {
	sink := &recordingSink{}
	p, err := NewPipeline(testConfig(), sink)
	require.NoError(t, err)

	p.ProcessChunk(constant(256, 1), 1)
	p.Stop()

	assert.Equal(t, 0.0, p.Level())
	assert.Empty(t, p.Levels())
	assert.Empty(t, p.Slices())
	assert.Equal(t, 1, sink.clears)
	assert.Equal(t, 0.0, sink.levels[len(sink.levels)-1])

	p.Start()
	assert.Equal(t, 2, sink.clears)
}

func TestNewPipelineRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSlices = 0
	_, err := NewPipeline(cfg, nil)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Smoothing = 0
	_, err = NewPipeline(cfg, nil)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.FreqMin, cfg.FreqMax = 5000, 100
	_, err = NewPipeline(cfg, nil)
	assert.ErrorIs(t, err, spectral.ErrInvalidParams)
}

func TestAsyncSinkNeverBlocksAndKeepsLatest(t *testing.T) {
	target := &recordingSink{block: make(chan struct{})}
	sink := NewAsyncSink(target)

	done := make(chan struct{})
	go func() {
		for i := 1; i <= 100; i++ {
			sink.SetLevel(float64(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked on a stalled consumer")
	}

	close(target.block)
	sink.Close()

	levels := target.snapshotLevels()
	require.NotEmpty(t, levels)
	assert.Less(t, len(levels), 100)
	assert.Equal(t, 100.0, levels[len(levels)-1])
}

func TestAsyncSinkClearDropsPending(t *testing.T) {
	target := &recordingSink{block: make(chan struct{})}
	sink := NewAsyncSink(target)

	sink.SetSpectrogramData([][]float64{{1}}, []float64{100})
	sink.Clear()
	close(target.block)
	sink.Close()

	target.mu.Lock()
	defer target.mu.Unlock()
	assert.GreaterOrEqual(t, target.clears, 1)
	// a spectrogram delivered before the clear is allowed; none after it
	if target.matrix != nil {
		assert.Equal(t, [][]float64{{1}}, target.matrix)
	}
}

func TestDecodePCM16(t *testing.T) {
	data := []byte{0x00, 0x80, 0xff, 0x7f, 0x00, 0x00, 0x01}
	assert.Equal(t, []float64{-1, 32767.0 / 32768.0, 0}, DecodePCM16(data))
}

func writeWAV(t *testing.T, path string, sampleRate, channels int, data []int) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
}

func TestFileTapPollReadsTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.wav")
	// mono full-scale square wave: RMS is ~1
	data := make([]int, 8000)
	for i := range data {
		if i%2 == 0 {
			data[i] = 32767
		} else {
			data[i] = -32768
		}
	}
	writeWAV(t, path, 8000, 1, data)

	p, err := NewPipeline(testConfig(), nil)
	require.NoError(t, err)
	tap := NewFileTap(p, time.Hour)

	assert.False(t, tap.Poll())

	tap.Start(context.Background(), path)
	defer tap.Stop()

	require.True(t, tap.Poll())
	assert.InDelta(t, 0.3, p.Level(), 1e-3)
	// 8192 bytes of mono 16-bit is 4096 frames: one slice
	assert.Len(t, p.Slices(), 1)
}

func TestFileTapSkipsMissingAndShortFiles(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPipeline(testConfig(), nil)
	require.NoError(t, err)
	tap := NewFileTap(p, time.Hour)

	tap.Start(context.Background(), filepath.Join(dir, "missing.wav"))
	assert.False(t, tap.Poll())
	tap.Stop()

	short := filepath.Join(dir, "short.wav")
	require.NoError(t, os.WriteFile(short, make([]byte, 40), 0o644))
	tap.Start(context.Background(), short)
	assert.False(t, tap.Poll())
	tap.Stop()

	assert.Empty(t, p.Levels())
}

func TestFileTapStopResetsMeter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.wav")
	writeWAV(t, path, 8000, 2, constantInts(4000, 16384))

	sink := &recordingSink{received: make(chan struct{}, 1)}
	p, err := NewPipeline(testConfig(), sink)
	require.NoError(t, err)
	tap := NewFileTap(p, 5*time.Millisecond)

	tap.Start(context.Background(), path)
	assert.True(t, tap.Active())

	select {
	case <-sink.received:
	case <-time.After(2 * time.Second):
		t.Fatal("tap never polled")
	}

	tap.Stop()
	assert.False(t, tap.Active())
	assert.Equal(t, 0.0, p.Level())
	levels := sink.snapshotLevels()
	assert.Equal(t, 0.0, levels[len(levels)-1])
}

func constantInts(n, v int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}
