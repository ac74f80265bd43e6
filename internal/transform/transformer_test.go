package transform

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/media-ingest/internal/audio"
	"github.com/maauso/media-ingest/internal/media"
)

type pathRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *pathRecorder) Register(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *pathRecorder) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

type mockCompressor struct {
	mock.Mock
}

func (m *mockCompressor) Compress(ctx context.Context, src, dst string, opts audio.CompressOpts) error {
	args := m.Called(ctx, src, dst, opts)
	return args.Error(0)
}

// blockingResizer waits for cancellation before returning.
type blockingResizer struct {
	started chan struct{}
}

func (b *blockingResizer) ResizeImage(ctx context.Context, _, _ string, _, _ int) (media.Dimensions, error) {
	close(b.started)
	<-ctx.Done()
	return media.Dimensions{}, ctx.Err()
}

type failingResizer struct{}

func (failingResizer) ResizeImage(context.Context, string, string, int, int) (media.Dimensions, error) {
	return media.Dimensions{}, errors.New("decode image: unexpected EOF")
}

func writePNG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	p := filepath.Join(dir, "photo.png")
	f, err := os.Create(p)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return p
}

func writeFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, make([]byte, size), 0o600))
	return p
}

func TestTransform_ImageIsResizedAndRegistered(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, 2000, 1000)
	tr := NewTransformer(media.NewImagingResizer(), nil, dir, Options{}, nil)
	reg := &pathRecorder{}

	res, err := tr.Transform(context.Background(), media.Asset{
		LocalPath: src, Kind: media.KindImage, MIMEType: "image/png",
	}, reg)
	require.NoError(t, err)

	assert.Equal(t, OutcomeTransformed, res.Outcome)
	assert.Equal(t, "image/jpeg", res.Asset.MIMEType)
	assert.Equal(t, media.KindImage, res.Asset.Kind)
	assert.Equal(t, []string{res.Asset.LocalPath}, reg.Paths())
	assert.Equal(t, ".jpg", filepath.Ext(res.Asset.LocalPath))
	assert.Positive(t, res.Asset.SizeBytes)

	cfg, err := decodeConfig(res.Asset.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, 1600, cfg.Width)
	assert.Equal(t, 800, cfg.Height)
}

func TestTransform_ImageFailureIsTerminalButRegistered(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "broken.jpg", 10)
	tr := NewTransformer(failingResizer{}, nil, dir, Options{}, nil)
	reg := &pathRecorder{}

	_, err := tr.Transform(context.Background(), media.Asset{LocalPath: src, Kind: media.KindImage}, reg)
	assert.ErrorIs(t, err, ErrTransformFailed)
	assert.Len(t, reg.Paths(), 1, "the reserved output path must still be cleaned up")
}

func TestTransform_ImageWithoutResizer(t *testing.T) {
	tr := NewTransformer(nil, nil, t.TempDir(), Options{}, nil)
	_, err := tr.Transform(context.Background(), media.Asset{LocalPath: "x.jpg", Kind: media.KindImage}, nil)
	assert.ErrorIs(t, err, ErrNoResizer)
	assert.ErrorIs(t, err, ErrTransformFailed)
}

func TestTransform_Audio(t *testing.T) {
	dir := t.TempDir()

	t.Run("small compressed audio is skipped", func(t *testing.T) {
		comp := &mockCompressor{}
		tr := NewTransformer(nil, comp, dir, Options{}, nil)
		asset := media.Asset{LocalPath: writeFile(t, dir, "song.mp3", 100), Kind: media.KindAudio, MIMEType: "audio/mpeg", SizeBytes: 100}
		reg := &pathRecorder{}

		res, err := tr.Transform(context.Background(), asset, reg)
		require.NoError(t, err)
		assert.Equal(t, OutcomeTransformed, res.Outcome)
		assert.Equal(t, asset, res.Asset)
		assert.Empty(t, reg.Paths())
		comp.AssertNotCalled(t, "Compress", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("wav is compressed", func(t *testing.T) {
		comp := &mockCompressor{}
		comp.On("Compress", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				_ = os.WriteFile(args.String(2), []byte("aac-data"), 0o600)
			}).Return(nil)
		tr := NewTransformer(nil, comp, dir, Options{}, nil)
		asset := media.Asset{LocalPath: writeFile(t, dir, "take.wav", 4096), Kind: media.KindAudio, MIMEType: "audio/wav", SizeBytes: 4096, Duration: time.Minute}
		reg := &pathRecorder{}

		res, err := tr.Transform(context.Background(), asset, reg)
		require.NoError(t, err)
		assert.Equal(t, OutcomeTransformed, res.Outcome)
		assert.Equal(t, "audio/mp4", res.Asset.MIMEType)
		assert.Equal(t, int64(8), res.Asset.SizeBytes)
		assert.Equal(t, time.Minute, res.Asset.Duration)
		assert.Equal(t, []string{res.Asset.LocalPath}, reg.Paths())
		comp.AssertExpectations(t)
	})

	t.Run("compression failure falls back to original", func(t *testing.T) {
		comp := &mockCompressor{}
		comp.On("Compress", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(errors.New("ffmpeg exited with status 1"))
		tr := NewTransformer(nil, comp, dir, Options{}, nil)
		asset := media.Asset{LocalPath: writeFile(t, dir, "take2.wav", 4096), Kind: media.KindAudio, MIMEType: "audio/wav", SizeBytes: 4096}
		reg := &pathRecorder{}

		res, err := tr.Transform(context.Background(), asset, reg)
		require.NoError(t, err)
		assert.Equal(t, OutcomeFallbackToOriginal, res.Outcome)
		assert.Equal(t, asset, res.Asset)
		assert.Len(t, reg.Paths(), 1)
	})

	t.Run("no compressor falls back", func(t *testing.T) {
		tr := NewTransformer(nil, nil, dir, Options{}, nil)
		asset := media.Asset{LocalPath: "a.flac", Kind: media.KindAudio, MIMEType: "audio/flac", SizeBytes: 5 << 20}
		res, err := tr.Transform(context.Background(), asset, nil)
		require.NoError(t, err)
		assert.Equal(t, OutcomeFallbackToOriginal, res.Outcome)
	})
}

func TestTransform_Video(t *testing.T) {
	tr := NewTransformer(nil, nil, t.TempDir(), Options{}, nil)

	short := media.Asset{LocalPath: "clip.mp4", Kind: media.KindVideo, Duration: 45 * time.Second}
	res, err := tr.Transform(context.Background(), short, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTransformed, res.Outcome)
	assert.Equal(t, short, res.Asset)

	long := media.Asset{LocalPath: "long.mp4", Kind: media.KindVideo, Duration: 90 * time.Second}
	res, err = tr.Transform(context.Background(), long, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRequiresExternalStep, res.Outcome)
	assert.Equal(t, long, res.Asset)
}

func TestTransform_CancelledContext(t *testing.T) {
	tr := NewTransformer(nil, nil, t.TempDir(), Options{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Transform(ctx, media.Asset{Kind: media.KindVideo}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJob_Cancel(t *testing.T) {
	dir := t.TempDir()
	resizer := &blockingResizer{started: make(chan struct{})}
	tr := NewTransformer(resizer, nil, dir, Options{}, nil)
	reg := &pathRecorder{}

	job := tr.Start(context.Background(), media.Asset{LocalPath: "p.jpg", Kind: media.KindImage}, reg)
	<-resizer.started
	job.Cancel()

	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not stop after Cancel")
	}

	_, err := job.Wait()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, reg.Paths(), 1)
	job.Cancel()
}

func TestJob_Wait(t *testing.T) {
	tr := NewTransformer(nil, nil, t.TempDir(), Options{}, nil)
	job := tr.Start(context.Background(), media.Asset{LocalPath: "c.mp4", Kind: media.KindVideo, Duration: time.Second}, nil)

	res, err := job.Wait()
	require.NoError(t, err)
	assert.Equal(t, OutcomeTransformed, res.Outcome)
}

func TestNewTransformer_Defaults(t *testing.T) {
	tr := NewTransformer(nil, nil, "", Options{ImageQuality: 150}, nil)
	assert.Equal(t, DefaultOptions(), tr.Options())
}

func decodeConfig(path string) (image.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, err
	}
	defer func() { _ = f.Close() }()
	cfg, _, err := image.DecodeConfig(f)
	return cfg, err
}
