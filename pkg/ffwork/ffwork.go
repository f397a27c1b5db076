package ffwork

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ixugo/goddd/pkg/queue"
)

// PlaylistName HLS 播放列表文件名
const PlaylistName = "playlist.m3u8"

type (
	Config struct {
		RTSPURL        string
		OutputDir      string // 切片输出目录，由调用方创建
		Transport      string // 默认 tcp
		SegmentSeconds int    // 切片时长，默认 2
		PlaylistSize   int    // 滚动窗口大小，默认 5
		Binary         string // 默认 ffmpeg
		StopGrace      time.Duration
		Name           string
	}

	// Transcoder 包装一个 RTSP 转 HLS 的 ffmpeg 进程
	Transcoder struct {
		Name      string
		config    Config
		m         sync.Mutex
		started   bool
		startAt   time.Time
		cmd       *exec.Cmd
		wg        sync.WaitGroup
		exitDone  chan struct{}
		exitErr   error
		ffmpegLog *queue.CirQueue[string]
		// stderr 中出现切片打开标记
		segmentOpened atomic.Bool
	}

	Stats struct {
		Name          string
		Pid           int
		IsRunning     bool
		SegmentOpened bool
		StartAt       time.Time
	}
)

func NewTranscoder(cfg Config) (*Transcoder, error) {
	if cfg.RTSPURL == "" {
		return nil, fmt.Errorf("rtsp url is required")
	}
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("output dir is required")
	}
	if cfg.Transport == "" {
		cfg.Transport = "tcp"
	}
	if cfg.SegmentSeconds <= 0 {
		cfg.SegmentSeconds = 2
	}
	if cfg.PlaylistSize <= 0 {
		cfg.PlaylistSize = 5
	}
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 5 * time.Second
	}
	return &Transcoder{
		Name:      cfg.Name,
		config:    cfg,
		exitDone:  make(chan struct{}),
		ffmpegLog: queue.NewCirQueue[string](100),
	}, nil
}

func (t *Transcoder) buildFFmpegArgs() []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "info",
		"-nostdin",
	}
	args = append(args, "-user_agent", "FFmpeg Argus")
	// 输入侧：宽松的分析窗口，兼容时间戳异常的固件
	args = append(args,
		"-avoid_negative_ts", "make_zero",
		"-fflags", "+genpts+discardcorrupt",
		"-rtsp_transport", t.config.Transport,
		"-analyzeduration", "10000000",
		"-probesize", "10000000",
		"-timeout", "10000000",
	)
	args = append(args, "-i", t.config.RTSPURL)

	// 输出侧：恒定帧率消除播放抖动，明确禁掉音频
	args = append(args,
		"-an",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-r", "25",
		"-vsync", "cfr",
		"-g", "50",
		"-sc_threshold", "0",
		"-f", "hls",
		"-hls_time", strconv.Itoa(t.config.SegmentSeconds),
		"-hls_list_size", strconv.Itoa(t.config.PlaylistSize),
		"-hls_flags", "delete_segments",
		"-hls_segment_filename", filepath.Join(t.config.OutputDir, "segment_%03d.ts"),
		filepath.Join(t.config.OutputDir, PlaylistName),
	)
	return args
}

func (t *Transcoder) Start() error {
	t.m.Lock()
	defer t.m.Unlock()
	if t.started {
		return fmt.Errorf("transcoder already started")
	}

	args := t.buildFFmpegArgs()
	t.cmd = exec.Command(t.config.Binary, args...)
	stderr, err := t.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := t.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	t.started = true
	t.startAt = time.Now()

	t.wg.Go(func() { t.readStderr(stderr) })

	// 收割进程：等 stderr 读尽再 Wait，退出后关闭 exitDone
	cmd := t.cmd
	go func() {
		t.wg.Wait()
		err := cmd.Wait()
		t.m.Lock()
		t.exitErr = err
		t.m.Unlock()
		close(t.exitDone)
	}()
	return nil
}

// readStderr 读取 ffmpeg 的 stderr 输出用于日志记录
// 同时识别 hls 复用器的切片打开标记，作为启动就绪的软信号
func (t *Transcoder) readStderr(stderr io.Reader) {
	scan := bufio.NewScanner(stderr)
	for scan.Scan() {
		line := scan.Text()
		t.ffmpegLog.Push(line)
		if strings.Contains(line, "Opening '") && strings.Contains(line, "' for writing") {
			t.segmentOpened.Store(true)
		}
	}
}

// SegmentOpened stderr 中是否已出现切片打开标记
func (t *Transcoder) SegmentOpened() bool {
	return t.segmentOpened.Load()
}

// Exited 进程退出后该通道关闭
func (t *Transcoder) Exited() <-chan struct{} {
	return t.exitDone
}

// ExitErr 进程退出后的 Wait 结果，未退出时返回 nil
func (t *Transcoder) ExitErr() error {
	t.m.Lock()
	defer t.m.Unlock()
	return t.exitErr
}

// ExitDiagnostic 退出码与 stderr 末尾若干行，用于启动失败时的诊断
func (t *Transcoder) ExitDiagnostic() string {
	err := t.ExitErr()
	lines := t.ffmpegLog.Range()
	const tail = 5
	if len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return fmt.Sprintf("exit code %d: %s", code, strings.Join(lines, " | "))
}

func (t *Transcoder) Alive() bool {
	select {
	case <-t.exitDone:
		return false
	default:
	}
	t.m.Lock()
	defer t.m.Unlock()
	return t.started && t.cmd != nil && t.cmd.Process != nil
}

func (t *Transcoder) Pid() int {
	t.m.Lock()
	defer t.m.Unlock()
	if t.cmd == nil || t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

func (t *Transcoder) Log() []string {
	return t.ffmpegLog.Range()
}

// Stop 先发送优雅终止信号，宽限期内未退出则强杀
func (t *Transcoder) Stop() error {
	t.m.Lock()
	if !t.started {
		t.m.Unlock()
		return nil
	}
	t.started = false
	cmd := t.cmd
	t.m.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-time.After(t.config.StopGrace):
			if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				return fmt.Errorf("failed to kill ffmpeg: %w", err)
			}
			<-t.exitDone
		case <-t.exitDone:
		}
	}
	return nil
}

func (t *Transcoder) GetStats() Stats {
	t.m.Lock()
	defer t.m.Unlock()
	pid := 0
	if t.cmd != nil && t.cmd.Process != nil {
		pid = t.cmd.Process.Pid
	}
	return Stats{
		Name:          t.Name,
		Pid:           pid,
		IsRunning:     t.started,
		SegmentOpened: t.segmentOpened.Load(),
		StartAt:       t.startAt,
	}
}
