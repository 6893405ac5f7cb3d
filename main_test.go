package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/any-hub/catcache/internal/config"
	"github.com/any-hub/catcache/internal/logging"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv(configEnv, "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
}

func TestParseCLIFlagsWithoutConfigFile(t *testing.T) {
	t.Setenv(configEnv, "")
	dir := t.TempDir()

	opts, err := parseCLIFlags([]string{"-h", "127.0.0.1", "-p", "8080", "-c", dir, "--check-config"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "" {
		t.Fatalf("未指定配置文件时路径应为空，得到 %s", opts.configPath)
	}
	if !opts.checkOnly {
		t.Fatalf("--check-config 未生效")
	}

	useBufferWriters(t)
	if code := run(opts); code != 0 {
		t.Fatalf("仅使用 flag 的配置应校验通过，得到 %d (stderr=%s)", code, stdErrBuffer().String())
	}
}

func TestParseCLIFlagsRejectsUnknown(t *testing.T) {
	if _, err := parseCLIFlags([]string{"--unknown"}); err == nil {
		t.Fatalf("未知参数应返回错误")
	}
	if _, err := parseCLIFlags([]string{"extra"}); err == nil {
		t.Fatalf("多余的位置参数应返回错误")
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
	if !strings.Contains(stdErrBuffer().String(), "加载配置失败") {
		t.Fatalf("stderr 应包含失败原因，得到 %q", stdErrBuffer().String())
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "catcache") {
		t.Fatalf("version 输出应包含 catcache 标识")
	}
}

func TestBuildAppCreatesCacheRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "cache")
	cfg := testConfig(t, root, "")

	if _, _, err := buildApp(context.Background(), cfg, logging.Discard()); err != nil {
		t.Fatalf("buildApp 失败: %v", err)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		t.Fatalf("缓存目录应被递归创建: %v", err)
	}

	// 目录已存在时再次启动不应失败。
	if _, _, err := buildApp(context.Background(), cfg, logging.Discard()); err != nil {
		t.Fatalf("已存在的缓存目录不应导致失败: %v", err)
	}
}

func TestBuildAppFailsWhenCacheRootIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatalf("写入文件失败: %v", err)
	}
	cfg := testConfig(t, filepath.Join(file, "cache"), "")

	if _, _, err := buildApp(context.Background(), cfg, logging.Discard()); err == nil {
		t.Fatalf("缓存目录无法创建时应返回错误")
	}
}

func TestNewStoreS3Backend(t *testing.T) {
	cfg := testConfig(t, "", "")
	cfg.StorageBackend = config.StorageBackendS3
	cfg.S3 = config.S3Config{
		Bucket:       "http-cats",
		Prefix:       "cache/",
		Region:       "us-east-1",
		Endpoint:     "http://127.0.0.1:9000",
		UsePathStyle: true,
		AccessKey:    "minio",
		SecretKey:    "minio-secret",
	}

	store, err := newStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("s3 后端初始化失败: %v", err)
	}
	if store == nil {
		t.Fatalf("expected s3 store")
	}
}

func TestBuildAppEndToEnd(t *testing.T) {
	jpeg := []byte{0xff, 0xd8, 0xff, 0xdb, 0x00, 0x43, 0xff, 0xd9}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/418" {
			_, _ = w.Write(jpeg)
			return
		}
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	root := t.TempDir()
	cfg := testConfig(t, root, upstream.URL)
	cfg.EnableDiagnostics = true

	app, recorder, err := buildApp(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("buildApp 失败: %v", err)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/418", nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !bytes.Equal(body, jpeg) {
		t.Fatalf("回源结果不符合预期: status=%d body=%v", resp.StatusCode, body)
	}

	onDisk, err := os.ReadFile(filepath.Join(root, "418.jpg"))
	if err != nil {
		t.Fatalf("回填文件应存在: %v", err)
	}
	if !bytes.Equal(onDisk, jpeg) {
		t.Fatalf("回填内容应与上游一致")
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/-/stats", nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("诊断接口应返回 200，得到 %d", resp.StatusCode)
	}
	if recorder.Outcome("backfilled") != 1 {
		t.Fatalf("应记录一次回填")
	}
}

func TestStartHTTPServerStopsOnCancel(t *testing.T) {
	cfg := testConfig(t, t.TempDir(), "")
	cfg.Port = freePort(t)

	app, _, err := buildApp(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("buildApp 失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- startHTTPServer(ctx, app, cfg, logging.Discard())
	}()

	waitForListener(t, cfg.ListenAddress())
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("优雅退出不应返回错误: %v", err)
		}
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatalf("服务未在超时内退出")
	}
}

func testConfig(t *testing.T, cachePath, originURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Host:           "127.0.0.1",
		Port:           8080,
		CachePath:      cachePath,
		OriginURL:      originURL,
		OriginTimeout:  config.Duration(5 * time.Second),
		StorageBackend: config.StorageBackendFS,
		LogLevel:       "info",
		BodyLimit:      1 << 20,
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("无法分配端口: %v", err)
	}
	defer listener.Close()
	_, port, _ := net.SplitHostPort(listener.Addr().String())
	value, _ := strconv.Atoi(port)
	return value
}

func waitForListener(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("服务未在 %s 上监听", addr)
}
