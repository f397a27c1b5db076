package api

import (
	"expvar"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gowvp/argus/internal/conf"
)

var (
	testUC      *Usecase
	testHandler http.Handler
)

// TestMain 整个包共享一个 handler，指标中间件的 expvar 注册只能发生一次
func TestMain(m *testing.M) {
	// 构建信息由 main 发布，测试进程里补上
	expvar.NewString("git_branch").Set("main")
	expvar.NewString("git_hash").Set("abc1234")

	root, err := os.MkdirTemp("", "argus-api-test")
	if err != nil {
		panic(err)
	}
	bc, err := conf.SetupConfig("not-exist.toml")
	if err != nil {
		panic(err)
	}
	bc.Stream.HLSDir = filepath.Join(root, "hls")
	if err := os.MkdirAll(bc.Stream.HLSDir, 0o755); err != nil {
		panic(err)
	}

	deviceCore := NewDeviceCore(NewDeviceStore())
	testUC = &Usecase{
		Conf:          bc,
		DeviceCore:    deviceCore,
		DiscoveryCore: NewDiscoveryCore(deviceCore, bc),
		StreamCore:    NewStreamCore(bc, deviceCore, NewResolver(bc, nil)),
	}
	testHandler = NewHTTPHandler(testUC)

	code := m.Run()
	_ = os.RemoveAll(root)
	os.Exit(code)
}

// TestGetHealth 健康检查返回构建信息
func TestGetHealth(t *testing.T) {
	w := httptest.NewRecorder()
	testHandler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "git_branch") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

// TestGetHLSPlaylist 播放列表带正确的内容类型
func TestGetHLSPlaylist(t *testing.T) {
	dir := filepath.Join(testUC.Conf.Stream.HLSDir, "cam1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "playlist.m3u8"), []byte("#EXTM3U\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	testHandler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/hls/cam1/playlist.m3u8", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "mpegurl") {
		t.Fatalf("content type = %s", ct)
	}
}

// TestGetHLSNoTraversal 路径穿越被锚定在输出根目录内
func TestGetHLSNoTraversal(t *testing.T) {
	secret := filepath.Join(filepath.Dir(testUC.Conf.Stream.HLSDir), "secret.txt")
	if err := os.WriteFile(secret, []byte("top-secret"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/hls/cam1/playlist.m3u8", nil)
	req.URL.Path = "/hls/../secret.txt"
	testHandler.ServeHTTP(w, req)
	if strings.Contains(w.Body.String(), "top-secret") {
		t.Fatal("traversal leaked file content")
	}
}

// TestNoRoute 未注册路由返回 404
func TestNoRoute(t *testing.T) {
	w := httptest.NewRecorder()
	testHandler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("code = %d", w.Code)
	}
}
