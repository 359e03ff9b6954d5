package uploader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"floradrop/internal/uploader/media"
	"floradrop/internal/uploader/preview"
	"floradrop/internal/uploader/transport"
	"floradrop/internal/uploader/validate"

	"github.com/rs/zerolog"
)

// Phase 标记上传会话当前所处的阶段，任一时刻只有一个阶段生效。
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseValidating Phase = "validating"
	PhaseReady      Phase = "ready"
	PhaseUploading  Phase = "uploading"
	PhaseSucceeded  Phase = "succeeded"
	PhaseFailed     Phase = "failed"
)

var (
	// ErrClosed 表示会话已关闭，不再接受任何操作。
	ErrClosed = errors.New("uploader: session closed")
	// ErrUploadInFlight 表示已有一次传输在进行中。
	ErrUploadInFlight = errors.New("uploader: upload already in flight")
	// ErrNotReady 表示当前没有通过校验的文件可供上传。
	ErrNotReady = errors.New("uploader: no validated file to upload")
)

// Snapshot 是暴露给展示层的唯一状态视图，按值返回。
// Failure 在校验失败时是 validate.Outcome，传输失败时是 *transport.Error，
// 展示层据此区分“换一张图”与“点击重试”。
type Snapshot struct {
	Phase    Phase
	Preview  *preview.Preview
	Progress transport.Progress
	Result   *transport.Result
	Failure  error
}

// Transport 抽象实际的网络上传调用。
type Transport interface {
	Send(ctx context.Context, candidate media.Candidate, fields map[string]string, onProgress func(transport.Progress)) (*transport.Result, error)
}

// Options 描述一台会话实例的全部可配置项，未列出的选项不被接受。
type Options struct {
	Validate      validate.Config
	Decode        validate.DecodeFunc // 按实例注入的图片解码能力，nil 使用默认实现
	DecodeTimeout time.Duration
	Transport     Transport
	PreviewDir    string            // 预览副本目录，空则使用临时目录
	Fields        map[string]string // 随上传附带的表单字段
	AutoUpload    bool
	OnSuccess     func(*transport.Result)
	OnError       func(error)
	Notify        func(Snapshot) // 每次状态变化时同步回调，回调内不得再调用会话方法
	Logger        zerolog.Logger
}

// Session 是一次上传部件的状态机，串联校验、预览与传输。
// 所有状态迁移经由同一把锁严格串行；解码与网络传输在锁外执行，
// 过期尝试的迟到结果通过代数匹配被丢弃。
type Session struct {
	validator *validate.Validator
	previews  *preview.Manager
	transport Transport
	fields    map[string]string
	auto      bool
	onSuccess func(*transport.Result)
	onError   func(error)
	notify    func(Snapshot)
	logger    zerolog.Logger

	mu           sync.Mutex
	notifyMu     sync.Mutex
	phase        Phase
	preview      *preview.Preview
	progress     transport.Progress
	result       *transport.Result
	failure      error
	gen          uint64
	cancelUpload context.CancelFunc
	closed       bool
}

// NewSession 创建上传会话，初始状态为 Idle。
func NewSession(opts Options) (*Session, error) {
	previews, err := preview.NewManager(opts.PreviewDir)
	if err != nil {
		return nil, err
	}

	return &Session{
		validator: validate.New(opts.Validate, opts.Decode, opts.DecodeTimeout),
		previews:  previews,
		transport: opts.Transport,
		fields:    opts.Fields,
		auto:      opts.AutoUpload,
		onSuccess: opts.OnSuccess,
		onError:   opts.OnError,
		notify:    opts.Notify,
		logger:    opts.Logger,
		phase:     PhaseIdle,
	}, nil
}

// Select 选定一份新的候选文件并执行校验。
// 从任意状态可达：先释放先前持有的预览、中止在途上传，
// 再依次通过体积、类型与像素尺寸检查，落入 Ready 或 Failed。
// 校验失败时返回失败原因；选择在校验期间被更新的尝试返回 nil。
func (s *Session) Select(ctx context.Context, c media.Candidate) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	s.abandonLocked()
	gen := s.gen
	s.phase = PhaseValidating
	s.unlockAndPublish(s.snapshotLocked())

	outcome := s.validator.Check(c)
	if outcome.OK {
		outcome = s.validator.CheckDimensions(ctx, c)
	}

	var pv *preview.Preview
	if outcome.OK {
		created, err := s.previews.Create(c)
		if err != nil {
			outcome = validate.Invalid(validate.FieldGeneral, "cannot prepare preview: %v", err)
		} else {
			pv = created
		}
	}

	s.mu.Lock()
	if s.closed || s.gen != gen {
		// 校验期间出现了更新的选择或重置，本次结果作废
		s.mu.Unlock()
		if pv != nil {
			s.releasePreview(pv)
		}
		return nil
	}

	if !outcome.OK {
		s.phase = PhaseFailed
		s.failure = outcome
		s.unlockAndPublish(s.snapshotLocked())
		if s.onError != nil {
			s.onError(outcome)
		}
		return outcome
	}

	s.phase = PhaseReady
	s.preview = pv
	readySnap := s.snapshotLocked()

	if s.auto {
		if err := s.startLocked(ctx, gen); err != nil {
			s.unlockAndPublish(readySnap)
			return err
		}
		s.unlockAndPublish(readySnap, s.snapshotLocked())
		return nil
	}

	s.unlockAndPublish(readySnap)
	return nil
}

// Start 对已通过校验的文件发起传输。
// 已在 Uploading 时返回 ErrUploadInFlight，绝不产生第二次并发发送；
// 传输失败后的 Failed 状态保留预览，可直接重试而无需重新校验。
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.phase == PhaseUploading {
		s.mu.Unlock()
		return ErrUploadInFlight
	}

	if err := s.startLocked(ctx, s.gen); err != nil {
		s.mu.Unlock()
		return err
	}
	s.unlockAndPublish(s.snapshotLocked())
	return nil
}

// startLocked 由持锁的调用方使用，校验前置条件并启动传输 goroutine。
func (s *Session) startLocked(ctx context.Context, gen uint64) error {
	if s.transport == nil {
		return fmt.Errorf("uploader: no transport configured")
	}

	retryable := s.phase == PhaseFailed && s.preview != nil
	if s.phase != PhaseReady && !retryable {
		return ErrNotReady
	}

	upCtx, cancel := context.WithCancel(ctx)
	s.cancelUpload = cancel
	s.phase = PhaseUploading
	s.progress = transport.Progress{}
	s.result = nil
	s.failure = nil

	candidate := s.preview.Candidate
	go s.run(upCtx, gen, candidate)
	return nil
}

// run 在锁外执行传输，完成后仅在代数仍匹配时应用结果。
func (s *Session) run(ctx context.Context, gen uint64, candidate media.Candidate) {
	onProgress := func(p transport.Progress) {
		s.mu.Lock()
		if s.gen != gen || s.phase != PhaseUploading || p.BytesSent < s.progress.BytesSent {
			s.mu.Unlock()
			return
		}
		s.progress = p
		s.unlockAndPublish(s.snapshotLocked())
	}

	result, err := s.transport.Send(ctx, candidate, s.fields, onProgress)

	s.mu.Lock()
	if s.gen != gen || s.phase != PhaseUploading {
		// 结果迟到，状态机已表达了更新的意图
		s.mu.Unlock()
		return
	}
	s.cancelUpload = nil

	if err != nil {
		s.phase = PhaseFailed
		s.failure = err
		s.unlockAndPublish(s.snapshotLocked())
		s.logger.Warn().Err(err).Str("file", candidate.Name).Msg("upload failed")
		if s.onError != nil {
			s.onError(err)
		}
		return
	}

	s.phase = PhaseSucceeded
	s.result = result
	s.unlockAndPublish(s.snapshotLocked())
	s.logger.Info().Str("id", result.ID).Str("url", result.URL).Msg("upload complete")
	if s.onSuccess != nil {
		s.onSuccess(result)
	}
}

// Reset 把会话拉回 Idle，释放当前预览并中止在途上传。
// 在 Idle 上调用是无操作。
func (s *Session) Reset() {
	s.mu.Lock()
	if s.closed || (s.phase == PhaseIdle && s.preview == nil) {
		s.mu.Unlock()
		return
	}

	s.abandonLocked()
	s.phase = PhaseIdle
	s.unlockAndPublish(s.snapshotLocked())
}

// Close 释放会话持有的全部资源，之后的任何操作都会失败。
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.abandonLocked()
	s.phase = PhaseIdle
	s.closed = true
	s.mu.Unlock()
}

// Snapshot 返回当前状态的副本。
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// abandonLocked 作废当前尝试：代数加一让迟到结果失效，
// 在途上传于网络层被中止，已持有的预览恰好释放一次。
func (s *Session) abandonLocked() {
	s.gen++
	if s.cancelUpload != nil {
		s.cancelUpload()
		s.cancelUpload = nil
	}
	if s.preview != nil {
		s.releasePreview(s.preview)
		s.preview = nil
	}
	s.progress = transport.Progress{}
	s.result = nil
	s.failure = nil
}

func (s *Session) releasePreview(p *preview.Preview) {
	if err := s.previews.Release(p); err != nil {
		s.logger.Warn().Err(err).Str("path", p.Path).Msg("release preview")
	}
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		Phase:    s.phase,
		Preview:  s.preview,
		Progress: s.progress,
		Result:   s.result,
		Failure:  s.failure,
	}
}

// unlockAndPublish 在释放状态锁之前先占住通知序，再逐个送出快照，
// 保证观察者收到的快照顺序与状态演进一致。调用方必须持有 s.mu。
func (s *Session) unlockAndPublish(snaps ...Snapshot) {
	s.notifyMu.Lock()
	s.mu.Unlock()
	if s.notify != nil {
		for _, snap := range snaps {
			s.notify(snap)
		}
	}
	s.notifyMu.Unlock()
}
