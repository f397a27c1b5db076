package stream

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gowvp/argus/internal/conf"
	"github.com/gowvp/argus/internal/core/device"
	"github.com/gowvp/argus/pkg/ffwork"
)

// 候选地址来源
const (
	SourceAssignment   = "assignment"
	SourceOnvifProfile = "onvif_profile"
	SourceFallback     = "fallback"
)

// fallbackPaths 设备厂商常见的默认流路径，按顺序尝试，最后是根路径
var fallbackPaths = []string{"profile1", "profile2", "stream1", "stream2", "main", "sub", "/"}

// Candidate 一个待验证的取流地址
type Candidate struct {
	URL    string
	Source string
	Label  string
}

// ResolveResult 解析成功的结果，Attempts 记录成功前的失败尝试
type ResolveResult struct {
	URL      string
	Source   string
	Attempts []ProbeAttempt
}

// Resolver 设备到可播放 RTSP 地址的解析器
//
// 候选地址按固定顺序构建：档位配置、ONVIF 媒体档位、兜底路径表，
// 逐个串行验证，首个通过者即为结果，全部失败返回一个聚合分类错误
type Resolver struct {
	cfg     *conf.Stream
	gateway Protocoler
	log     *slog.Logger

	validate func(ctx context.Context, rtspURL string) error
	dial     func(ctx context.Context, addr string) error
}

type ResolverOption func(*Resolver)

// WithValidator 替换候选验证函数，测试用
func WithValidator(fn func(ctx context.Context, rtspURL string) error) ResolverOption {
	return func(r *Resolver) {
		r.validate = fn
	}
}

// WithDialer 替换预检连接函数，测试用
func WithDialer(fn func(ctx context.Context, addr string) error) ResolverOption {
	return func(r *Resolver) {
		r.dial = fn
	}
}

func NewResolver(bc *conf.Bootstrap, gateway Protocoler, opts ...ResolverOption) *Resolver {
	cfg := &bc.Stream
	r := Resolver{
		cfg:     cfg,
		gateway: gateway,
		log:     slog.With("module", "resolver"),
	}
	r.validate = func(ctx context.Context, rtspURL string) error {
		return ffwork.ProbeRTSP(ctx, ffwork.ProbeConfig{
			Binary:    cfg.FFprobeBin,
			Transport: "tcp",
			Timeout:   cfg.ProbeTimeout.Duration(),
		}, rtspURL)
	}
	r.dial = func(ctx context.Context, addr string) error {
		d := net.Dialer{Timeout: 2 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
	for _, opt := range opts {
		opt(&r)
	}
	return &r
}

// Resolve 解析设备的可播放 RTSP 地址
// 预检失败立即返回网络不可达，不做任何候选验证
func (r *Resolver) Resolve(ctx context.Context, dev *device.Device) (*ResolveResult, error) {
	addr := net.JoinHostPort(dev.IP, strconv.Itoa(r.cfg.RTSPPort))
	if err := r.dial(ctx, addr); err != nil {
		r.log.Warn("RTSP 端口预检失败", "ip", dev.IP, "addr", addr, "err", err)
		return nil, NewError(ReasonNetworkUnreachable, err)
	}

	candidates := r.buildCandidates(ctx, dev)
	attempts := make([]ProbeAttempt, 0, len(candidates))
	for i, cand := range candidates {
		if i > 0 {
			select {
			case <-time.After(r.cfg.AttemptPause.Duration()):
			case <-ctx.Done():
				return nil, NewError(ReasonProtocolTimeout, ctx.Err())
			}
		}
		begin := time.Now()
		err := r.validate(ctx, cand.URL)
		if err == nil {
			r.log.Info("取流地址验证成功", "ip", dev.IP, "source", cand.Source, "label", cand.Label, "attempt", i+1)
			return &ResolveResult{URL: cand.URL, Source: cand.Source, Attempts: attempts}, nil
		}
		reason := ClassifyProbeError(err)
		attempts = append(attempts, ProbeAttempt{
			URL:     RedactURL(cand.URL),
			Source:  cand.Source,
			Reason:  reason,
			Detail:  truncateDetail(err.Error()),
			Elapsed: time.Since(begin),
		})
		r.log.Warn("候选地址验证失败", "ip", dev.IP, "source", cand.Source, "label", cand.Label, "reason", reason)
		// 工具缺失时继续尝试没有意义
		if reason == ReasonToolMissing {
			break
		}
	}

	agg := AggregateReason(attempts)
	return nil, &Error{Reason: agg, Message: agg.Message(), Attempts: attempts}
}

// buildCandidates 构建候选地址，顺序固定且按 URL 去重
func (r *Resolver) buildCandidates(ctx context.Context, dev *device.Device) []Candidate {
	out := make([]Candidate, 0, 8)
	seen := make(map[string]bool)
	add := func(rawurl, source, label string) {
		if rawurl == "" || seen[rawurl] {
			return
		}
		seen[rawurl] = true
		out = append(out, Candidate{URL: rawurl, Source: source, Label: label})
	}

	// ONVIF 媒体档位只取一次，档位配置与第二类候选共用
	var profiles []MediaProfile
	profilesLoaded := false
	loadProfiles := func() []MediaProfile {
		if profilesLoaded {
			return profiles
		}
		profilesLoaded = true
		if r.gateway == nil || dev.Endpoint == "" {
			return nil
		}
		ps, err := r.gateway.Profiles(ctx, dev)
		if err != nil {
			r.log.Debug("查询媒体档位失败", "ip", dev.IP, "err", err)
			return nil
		}
		profiles = ps
		return profiles
	}

	// 1. 档位配置，主码流标签优先，其余按优先级降序
	if r.gateway != nil && dev.Endpoint != "" {
		for _, as := range dev.SortedAssignments() {
			token := as.Token
			if token == "" {
				for _, p := range loadProfiles() {
					if strings.EqualFold(p.Name, as.Name) {
						token = p.Token
						break
					}
				}
			}
			if token == "" {
				continue
			}
			rawurl, err := r.gateway.StreamURI(ctx, dev, token)
			if err != nil {
				r.log.Debug("档位取流地址查询失败", "ip", dev.IP, "token", token, "err", err)
				continue
			}
			add(InjectCredentials(rawurl, dev.RTSPUsername, dev.RTSPPassword), SourceAssignment, as.Name+"/"+token)
		}

		// 2. ONVIF 媒体档位
		for _, p := range loadProfiles() {
			rawurl, err := r.gateway.StreamURI(ctx, dev, p.Token)
			if err != nil {
				r.log.Debug("档位取流地址查询失败", "ip", dev.IP, "token", p.Token, "err", err)
				continue
			}
			add(InjectCredentials(rawurl, dev.RTSPUsername, dev.RTSPPassword), SourceOnvifProfile, p.Name)
		}
	}

	// 3. 兜底路径表
	for _, path := range fallbackPaths {
		add(fallbackURL(dev.IP, r.cfg.RTSPPort, path, dev.RTSPUsername, dev.RTSPPassword), SourceFallback, path)
	}
	return out
}

// InjectCredentials 先剥离地址中内嵌的凭据，再注入给定凭据
// 避免设备返回的地址与配置凭据叠加出重复的认证段
func InjectCredentials(rawurl, username, password string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return rawurl
	}
	u.User = nil
	if username != "" {
		u.User = url.UserPassword(username, password)
	}
	return u.String()
}

// RedactURL 抹去地址中的密码，用于日志与对外返回
func RedactURL(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return rawurl
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}

func fallbackURL(ip string, port int, path, username, password string) string {
	u := url.URL{
		Scheme: "rtsp",
		Host:   net.JoinHostPort(ip, strconv.Itoa(port)),
		Path:   "/",
	}
	if path != "/" {
		u.Path = "/" + path
	}
	if username != "" {
		u.User = url.UserPassword(username, password)
	}
	return u.String()
}

func truncateDetail(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
