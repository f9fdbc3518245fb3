package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

const integrationPassword = "integration-password"

type binaryCache struct {
	once sync.Once
	path string
	err  error
}

var rtpProbeBinary binaryCache

type openListenerRequest struct {
	Port int `json:"port"`
}

type listenerResponse struct {
	Port               int    `json:"port"`
	CreatedAt          string `json:"created_at"`
	Packets            uint64 `json:"packets"`
	Bytes              uint64 `json:"bytes"`
	Parsed             uint64 `json:"parsed"`
	ParseErrors        uint64 `json:"parse_errors"`
	HeaderTooSmall     uint64 `json:"header_too_small"`
	CSRCTruncated      uint64 `json:"csrc_truncated"`
	ExtensionMissing   uint64 `json:"extension_missing"`
	ExtensionTruncated uint64 `json:"extension_truncated"`
	Streams            int    `json:"streams"`
}

type streamResponse struct {
	SSRC          string `json:"ssrc"`
	Packets       uint64 `json:"packets"`
	Bytes         uint64 `json:"bytes"`
	LastSequence  uint16 `json:"last_sequence"`
	LastTimestamp uint32 `json:"last_timestamp"`
	Version       uint8  `json:"version"`
	PayloadType   uint8  `json:"payload_type"`
	Marker        bool   `json:"marker"`
	CSRCCount     uint8  `json:"csrc_count"`
	HasExtension  bool   `json:"has_extension"`
	ExtensionID   string `json:"extension_id"`
}

type listenerStreamsResponse struct {
	Port    int              `json:"port"`
	Streams []streamResponse `json:"streams"`
}

type listListenersResponse struct {
	Listeners []listenerResponse `json:"listeners"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type rtpProbeInstance struct {
	BaseURL string
	cmd     *exec.Cmd
	output  *bytes.Buffer
}

func freeTCPPort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen tcp: %v", err)
	}
	defer listener.Close()
	addr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("unexpected tcp addr type %T", listener.Addr())
	}
	return addr.Port
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		t.Fatalf("unexpected udp addr type %T", conn.LocalAddr())
	}
	return addr.Port
}

func startRtpProbe(t *testing.T, env map[string]string) (*rtpProbeInstance, func()) {
	t.Helper()
	binary := buildRtpProbe(t)
	baseEnv := map[string]string{
		"SERVICE_PASSWORD": integrationPassword,
		"BIND_IP":          "127.0.0.1",
		"PROBE_PORT_MIN":   "36000",
		"PROBE_PORT_MAX":   "36020",
	}
	for key, value := range env {
		baseEnv[key] = value
	}

	apiPort := freeTCPPort(t)
	baseEnv["API_LISTEN_ADDR"] = fmt.Sprintf("127.0.0.1:%d", apiPort)

	cmd := exec.Command(binary)
	cmd.Dir = repoRoot(t)
	cmd.Env = append(os.Environ(), flattenEnv(baseEnv)...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Start(); err != nil {
		t.Fatalf("start rtp-probe: %v", err)
	}
	instance := &rtpProbeInstance{
		BaseURL: fmt.Sprintf("http://127.0.0.1:%d", apiPort),
		cmd:     cmd,
		output:  &output,
	}

	cleanup := func() {
		stopProcess(t, cmd, 5*time.Second)
	}

	if err := waitForHealth(instance.BaseURL, 5*time.Second); err != nil {
		cleanup()
		t.Fatalf("rtp-probe health: %v\n%s", err, output.String())
	}
	return instance, cleanup
}

func authURL(baseURL, path string) string {
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return baseURL + path + separator + "access_token=" + integrationPassword
}

func waitForHealth(baseURL string, timeout time.Duration) error {
	client := &http.Client{Timeout: 500 * time.Millisecond}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := client.Get(authURL(baseURL, "/v1/health"))
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for /v1/health")
}

func openListener(t *testing.T, client *http.Client, baseURL string, port int) (listenerResponse, int, error) {
	t.Helper()
	var resp listenerResponse
	status, err := doJSONRequest(client, http.MethodPost, authURL(baseURL, "/v1/listener"), openListenerRequest{Port: port}, &resp)
	return resp, status, err
}

func getListener(t *testing.T, client *http.Client, baseURL string, port int) (listenerResponse, int, error) {
	t.Helper()
	var resp listenerResponse
	status, err := doJSONRequest(client, http.MethodGet, authURL(baseURL, fmt.Sprintf("/v1/listener/%d", port)), nil, &resp)
	return resp, status, err
}

func deleteListener(t *testing.T, client *http.Client, baseURL string, port int) (int, error) {
	t.Helper()
	return doJSONRequest(client, http.MethodDelete, authURL(baseURL, fmt.Sprintf("/v1/listener/%d", port)), nil, nil)
}

func getListenerStreams(t *testing.T, client *http.Client, baseURL string, port int) (listenerStreamsResponse, int, error) {
	t.Helper()
	var resp listenerStreamsResponse
	status, err := doJSONRequest(client, http.MethodGet, authURL(baseURL, fmt.Sprintf("/v1/listener/%d/streams", port)), nil, &resp)
	return resp, status, err
}

func listListeners(t *testing.T, client *http.Client, baseURL string) (listListenersResponse, int, error) {
	t.Helper()
	var resp listListenersResponse
	status, err := doJSONRequest(client, http.MethodGet, authURL(baseURL, "/v1/listeners"), nil, &resp)
	return resp, status, err
}

func doJSONRequest(client *http.Client, method, url string, body any, dst any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func waitForListenerCondition(t *testing.T, client *http.Client, baseURL string, port int, timeout time.Duration, cond func(listenerResponse) bool) (listenerResponse, error) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, status, err := getListener(t, client, baseURL, port)
		if err != nil {
			return resp, err
		}
		if status == http.StatusOK && cond(resp) {
			return resp, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return listenerResponse{}, fmt.Errorf("timeout waiting for listener condition")
}

func assertListenerNotFound(t *testing.T, client *http.Client, baseURL string, port int) {
	t.Helper()
	status, err := doJSONRequest(client, http.MethodGet, authURL(baseURL, fmt.Sprintf("/v1/listener/%d", port)), nil, &errorResponse{})
	if err != nil {
		t.Fatalf("get listener after delete: %v", err)
	}
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", status)
	}
}

func buildRtpProbe(t *testing.T) string {
	t.Helper()
	return buildBinary(t, &rtpProbeBinary, "./cmd/rtp-probe", "rtp-probe")
}

func buildBinary(t *testing.T, cache *binaryCache, pkgPath, binaryName string) string {
	t.Helper()
	cache.once.Do(func() {
		dir, err := os.MkdirTemp("", binaryName+"-bin-")
		if err != nil {
			cache.err = err
			return
		}
		outputPath := filepath.Join(dir, binaryName)
		cmd := exec.Command("go", "build", "-o", outputPath, pkgPath)
		cmd.Dir = repoRoot(t)
		output, err := cmd.CombinedOutput()
		if err != nil {
			cache.err = fmt.Errorf("build %s: %w\n%s", binaryName, err, string(output))
			return
		}
		cache.path = outputPath
	})
	if cache.err != nil {
		t.Fatalf("build %s: %v", binaryName, cache.err)
	}
	if cache.path == "" {
		t.Fatalf("build %s: missing output path", binaryName)
	}
	return cache.path
}

func repoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("go.mod not found")
		}
		dir = parent
	}
}

func flattenEnv(env map[string]string) []string {
	flat := make([]string, 0, len(env))
	for key, value := range env {
		flat = append(flat, fmt.Sprintf("%s=%s", key, value))
	}
	return flat
}

func stopProcess(t *testing.T, cmd *exec.Cmd, timeout time.Duration) {
	t.Helper()
	if cmd == nil || cmd.Process == nil {
		return
	}
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(timeout):
	}
	_ = cmd.Process.Kill()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatalf("rtp-probe did not exit within %s", timeout)
	}
}
