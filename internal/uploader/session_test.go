package uploader

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"floradrop/internal/uploader/media"
	"floradrop/internal/uploader/transport"
	"floradrop/internal/uploader/validate"

	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu           sync.Mutex
	calls        int
	lastCtx      context.Context
	lastFields   map[string]string
	progress     []transport.Progress
	result       *transport.Result
	err          error
	block        chan struct{} // 非 nil 时 Send 阻塞直到关闭
	ignoreCancel bool          // 阻塞时不理会 ctx 取消，模拟无法中止的传输
}

func (f *fakeTransport) Send(ctx context.Context, c media.Candidate, fields map[string]string, onProgress func(transport.Progress)) (*transport.Result, error) {
	f.mu.Lock()
	f.calls++
	f.lastCtx = ctx
	f.lastFields = fields
	block := f.block
	f.mu.Unlock()

	for _, p := range f.progress {
		if onProgress != nil {
			onProgress(p)
		}
	}

	if block != nil {
		if f.ignoreCancel {
			<-block
		} else {
			select {
			case <-block:
			case <-ctx.Done():
				return nil, &transport.Error{Message: ctx.Err().Error()}
			}
		}
	}

	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func jpegConfig() validate.Config {
	return validate.Config{
		MaxSizeBytes:     10_000_000,
		AllowedMimeTypes: validate.AllowTypes("image/jpeg"),
	}
}

func previewCount(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func newTestSession(t *testing.T, dir string, opts Options) *Session {
	t.Helper()
	opts.PreviewDir = dir
	s, err := NewSession(opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSelect_ValidFile(t *testing.T) {
	dir := t.TempDir()
	s := newTestSession(t, dir, Options{Validate: jpegConfig(), Transport: &fakeTransport{}})

	c := media.FromBytes("plant.jpg", "image/jpeg", make([]byte, 2_000_000))
	require.NoError(t, s.Select(context.Background(), c))

	snap := s.Snapshot()
	require.Equal(t, PhaseReady, snap.Phase)
	require.NotNil(t, snap.Preview)
	require.Equal(t, "image/jpeg", snap.Preview.Candidate.MimeType)
	require.Equal(t, 1, previewCount(t, dir))
}

func TestSelect_OversizeFile(t *testing.T) {
	dir := t.TempDir()
	s := newTestSession(t, dir, Options{Validate: jpegConfig(), Transport: &fakeTransport{}})

	oversize := media.Candidate{Name: "huge.png", MimeType: "image/png", Size: 15_000_000}
	err := s.Select(context.Background(), oversize)
	require.Error(t, err)

	var outcome validate.Outcome
	require.ErrorAs(t, err, &outcome)
	require.Equal(t, validate.FieldSize, outcome.Field)

	snap := s.Snapshot()
	require.Equal(t, PhaseFailed, snap.Phase)
	require.Nil(t, snap.Preview, "invalid file must not produce a preview")
	require.Equal(t, 0, previewCount(t, dir))
}

func TestSelect_WrongType(t *testing.T) {
	s := newTestSession(t, t.TempDir(), Options{
		Validate: validate.Config{
			MaxSizeBytes:     10_000_000,
			AllowedMimeTypes: validate.AllowTypes("image/jpeg", "image/png"),
		},
		Transport: &fakeTransport{},
	})

	err := s.Select(context.Background(), media.FromBytes("doc.pdf", "application/pdf", make([]byte, 500_000)))
	require.Error(t, err)

	var outcome validate.Outcome
	require.ErrorAs(t, err, &outcome)
	require.Equal(t, validate.FieldType, outcome.Field)
	require.Equal(t, PhaseFailed, s.Snapshot().Phase)
}

func TestAutoUpload_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	ft := &fakeTransport{
		progress: []transport.Progress{
			{BytesSent: 500_000, BytesTotal: 1_000_000},
			{BytesSent: 1_000_000, BytesTotal: 1_000_000},
		},
		result: &transport.Result{
			ID:        "abc",
			URL:       "https://x/abc.jpg",
			SizeBytes: 1_000_000,
			MimeType:  "image/jpeg",
			CreatedAt: created,
		},
	}

	done := make(chan *transport.Result, 1)
	var mu sync.Mutex
	var seen []Snapshot

	s := newTestSession(t, dir, Options{
		Validate:   jpegConfig(),
		Transport:  ft,
		AutoUpload: true,
		OnSuccess:  func(r *transport.Result) { done <- r },
		Notify: func(snap Snapshot) {
			mu.Lock()
			seen = append(seen, snap)
			mu.Unlock()
		},
	})

	require.NoError(t, s.Select(context.Background(), media.FromBytes("p.jpg", "image/jpeg", make([]byte, 1_000_000))))

	select {
	case r := <-done:
		require.Equal(t, "abc", r.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("upload did not complete")
	}

	require.Equal(t, 1, ft.sendCount(), "auto upload must trigger exactly one send")

	snap := s.Snapshot()
	require.Equal(t, PhaseSucceeded, snap.Phase)
	require.Equal(t, ft.result, snap.Result)
	require.NotNil(t, snap.Preview)
	require.Equal(t, 1, previewCount(t, dir), "preview is kept until reset")

	// 每个快照都恰好处于一个阶段，进度单调不减
	mu.Lock()
	var lastSent int64
	for _, snap := range seen {
		require.NotEmpty(t, snap.Phase)
		if snap.Phase == PhaseUploading {
			require.GreaterOrEqual(t, snap.Progress.BytesSent, lastSent)
			lastSent = snap.Progress.BytesSent
		}
	}
	mu.Unlock()

	s.Reset()
	require.Equal(t, PhaseIdle, s.Snapshot().Phase)
	require.Equal(t, 0, previewCount(t, dir), "reset releases the preview exactly once")
}

func TestStart_WhileUploading(t *testing.T) {
	block := make(chan struct{})
	ft := &fakeTransport{block: block, result: &transport.Result{ID: "x"}}
	s := newTestSession(t, t.TempDir(), Options{Validate: jpegConfig(), Transport: ft})

	require.NoError(t, s.Select(context.Background(), media.FromBytes("p.jpg", "image/jpeg", []byte("data"))))
	require.NoError(t, s.Start(context.Background()))
	require.ErrorIs(t, s.Start(context.Background()), ErrUploadInFlight)
	require.Eventually(t, func() bool { return ft.sendCount() > 0 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, ft.sendCount())

	close(block)
	require.Eventually(t, func() bool {
		return s.Snapshot().Phase == PhaseSucceeded
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSelect_DuringUpload_DiscardsStaleResult(t *testing.T) {
	dir := t.TempDir()
	block := make(chan struct{})
	ft := &fakeTransport{
		block:        block,
		ignoreCancel: true,
		result:       &transport.Result{ID: "stale"},
	}
	s := newTestSession(t, dir, Options{Validate: jpegConfig(), Transport: ft})

	require.NoError(t, s.Select(context.Background(), media.FromBytes("old.jpg", "image/jpeg", []byte("old"))))
	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, PhaseUploading, s.Snapshot().Phase)
	require.Eventually(t, func() bool { return ft.sendCount() > 0 }, 2*time.Second, 10*time.Millisecond)

	// 上传尚未结束就选择新文件
	require.NoError(t, s.Select(context.Background(), media.FromBytes("new.jpg", "image/jpeg", []byte("new"))))

	snap := s.Snapshot()
	require.Equal(t, PhaseReady, snap.Phase)
	require.Equal(t, "new.jpg", snap.Preview.Candidate.Name)
	require.Equal(t, 1, previewCount(t, dir), "old preview released, new one alive")

	// 旧上传的 ctx 已在网络层被中止
	ft.mu.Lock()
	staleCtx := ft.lastCtx
	ft.mu.Unlock()
	require.Error(t, staleCtx.Err())

	// 放行旧传输，其迟到的成功结果必须被丢弃
	close(block)
	time.Sleep(50 * time.Millisecond)
	snap = s.Snapshot()
	require.Equal(t, PhaseReady, snap.Phase, "stale success must not overwrite newer state")
	require.Nil(t, snap.Result)
}

func TestTransportFailure_KeepsPreviewForRetry(t *testing.T) {
	dir := t.TempDir()
	ft := &fakeTransport{err: &transport.Error{StatusCode: 500, Message: "server error"}}

	failures := make(chan error, 1)
	s := newTestSession(t, dir, Options{
		Validate:  jpegConfig(),
		Transport: ft,
		OnError:   func(err error) { failures <- err },
	})

	require.NoError(t, s.Select(context.Background(), media.FromBytes("p.jpg", "image/jpeg", []byte("data"))))
	require.NoError(t, s.Start(context.Background()))

	select {
	case err := <-failures:
		var terr *transport.Error
		require.ErrorAs(t, err, &terr)
		require.Equal(t, 500, terr.StatusCode)
	case <-time.After(2 * time.Second):
		t.Fatal("upload failure was not reported")
	}

	snap := s.Snapshot()
	require.Equal(t, PhaseFailed, snap.Phase)
	require.NotNil(t, snap.Preview, "preview survives transport failure for retry")
	require.Equal(t, 1, previewCount(t, dir))

	// 重试无需重新选择文件
	ft.mu.Lock()
	ft.err = nil
	ft.result = &transport.Result{ID: "retried"}
	ft.mu.Unlock()

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		return s.Snapshot().Phase == PhaseSucceeded
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "retried", s.Snapshot().Result.ID)
	require.Equal(t, 2, ft.sendCount())
}

func TestReset_FromIdleIsNoop(t *testing.T) {
	notified := 0
	s := newTestSession(t, t.TempDir(), Options{
		Validate:  jpegConfig(),
		Transport: &fakeTransport{},
		Notify:    func(Snapshot) { notified++ },
	})

	s.Reset()
	require.Equal(t, PhaseIdle, s.Snapshot().Phase)
	require.Zero(t, notified, "reset from idle must be a no-op")
}

func TestStart_WithoutSelection(t *testing.T) {
	s := newTestSession(t, t.TempDir(), Options{Validate: jpegConfig(), Transport: &fakeTransport{}})
	require.ErrorIs(t, s.Start(context.Background()), ErrNotReady)
}

func TestStart_AfterValidationFailure(t *testing.T) {
	s := newTestSession(t, t.TempDir(), Options{Validate: jpegConfig(), Transport: &fakeTransport{}})

	_ = s.Select(context.Background(), media.FromBytes("doc.pdf", "application/pdf", []byte("x")))
	require.Equal(t, PhaseFailed, s.Snapshot().Phase)
	require.ErrorIs(t, s.Start(context.Background()), ErrNotReady)
}

func TestPreviewAccounting_AcrossSelections(t *testing.T) {
	dir := t.TempDir()
	s := newTestSession(t, dir, Options{Validate: jpegConfig(), Transport: &fakeTransport{}})
	ctx := context.Background()

	// 任意的选择与重置序列之后，存活预览数等于创建减释放
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Select(ctx, media.FromBytes("p.jpg", "image/jpeg", []byte("data"))))
		require.Equal(t, 1, previewCount(t, dir), "at most one preview alive per instance")
	}

	s.Reset()
	require.Equal(t, 0, previewCount(t, dir))

	require.NoError(t, s.Select(ctx, media.FromBytes("p.jpg", "image/jpeg", []byte("data"))))
	s.Close()
	require.Equal(t, 0, previewCount(t, dir), "close releases the held preview")
}

func TestClosedSession_RejectsOperations(t *testing.T) {
	s := newTestSession(t, t.TempDir(), Options{Validate: jpegConfig(), Transport: &fakeTransport{}})
	s.Close()

	err := s.Select(context.Background(), media.FromBytes("p.jpg", "image/jpeg", []byte("x")))
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, s.Start(context.Background()), ErrClosed)
}

func TestUploadFields_ArePassedThrough(t *testing.T) {
	ft := &fakeTransport{result: &transport.Result{ID: "x"}}
	s := newTestSession(t, t.TempDir(), Options{
		Validate:  jpegConfig(),
		Transport: ft,
		Fields:    map[string]string{"plant_hint": "ficus"},
	})

	require.NoError(t, s.Select(context.Background(), media.FromBytes("p.jpg", "image/jpeg", []byte("x"))))
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		return s.Snapshot().Phase == PhaseSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	ft.mu.Lock()
	defer ft.mu.Unlock()
	require.Equal(t, "ficus", ft.lastFields["plant_hint"])
}
