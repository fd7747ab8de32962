//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"enviro-telemetry/internal/mqtt"

	"github.com/docker/go-connections/nat"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const repoRootRel = ".." // relative to ./e2e

const mqttPort = nat.Port("1883/tcp")

type latestBody struct {
	Items []map[string]any `json:"items"`
}

func TestPipeline_SimulatedGatewayToStore(t *testing.T) {
	repoRoot := repoRootPath(t)
	host, port := startBroker(t)

	serverBin := buildBinary(t, repoRoot, "./cmd/server", "enviro-server")
	gatewayBin := buildBinary(t, repoRoot, "./cmd/gateway", "enviro-gateway")
	addr := pickFreeAddr(t)

	brokerEnv := []string{
		"APP_ENV=dev",
		"LOG_LEVEL=info",
		"ENV_FILE=" + filepath.Join(t.TempDir(), "missing.env"),
		"MQTT_BROKER=" + host,
		"MQTT_PORT=" + strconv.Itoa(port),
		"MQTT_TOPIC=data",
		"MQTT_RETRY_INTERVAL=500ms",
	}

	server := start(t, serverBin, append(brokerEnv,
		"HTTP_ADDR="+addr,
		"DB_DRIVER=sqlite3",
		"SQLITE_PATH="+filepath.Join(t.TempDir(), "telemetry.db"),
	)...)
	gateway := start(t, gatewayBin, append(brokerEnv,
		"SENSOR_SOURCE=simulated",
		"SENSOR_POLL_INTERVAL=200ms",
	)...)

	client := &http.Client{Timeout: 2 * time.Second}
	waitForOK(t, client, "http://"+addr+"/healthz", 15*time.Second)

	var body latestBody
	deadline := time.Now().Add(15 * time.Second)
	for len(body.Items) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d records stored", len(body.Items))
		}
		time.Sleep(200 * time.Millisecond)
		body = getLatest(t, client, "http://"+addr+"/api/telemetry/latest?limit=3")
	}

	for _, item := range body.Items {
		for _, key := range []string{"timestamp", "temperature", "pressure", "humidity", "lux", "oxidised", "reduced", "nh3"} {
			if item[key] == nil {
				t.Errorf("stored record missing %s: %v", key, item)
			}
		}
	}

	stop(t, gateway)
	stop(t, server)
}

func TestPipeline_MalformedMessageDoesNotStopListener(t *testing.T) {
	repoRoot := repoRootPath(t)
	host, port := startBroker(t)

	serverBin := buildBinary(t, repoRoot, "./cmd/server", "enviro-server")
	addr := pickFreeAddr(t)

	server := start(t, serverBin,
		"APP_ENV=dev",
		"ENV_FILE="+filepath.Join(t.TempDir(), "missing.env"),
		"HTTP_ADDR="+addr,
		"MQTT_BROKER="+host,
		"MQTT_PORT="+strconv.Itoa(port),
		"MQTT_TOPIC=data",
		"DB_DRIVER=sqlite3",
		"SQLITE_PATH="+filepath.Join(t.TempDir(), "telemetry.db"),
	)

	client := &http.Client{Timeout: 2 * time.Second}
	waitForOK(t, client, "http://"+addr+"/healthz", 15*time.Second)

	pub := mqtt.NewClient(mqtt.Options{Broker: host, Port: port, ClientID: "e2e-publisher"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pub.Connect(ctx); err != nil {
		t.Fatalf("connect publisher: %v", err)
	}
	defer pub.Disconnect()

	for _, payload := range []string{
		`{not json`,
		`{"timestamp": 1700000000, "oxidised": 1, "reduced": 2, "nh3": 3, "temperature": 12, "pressure": 101330, "humidity": "forty", "lux": 300}`,
		`{"timestamp": 1700000001, "oxidised": 1, "reduced": 2, "nh3": 3, "temperature": 12, "pressure": 101330, "humidity": 45, "lux": 300}`,
	} {
		if err := pub.Publish(ctx, "data", 1, []byte(payload)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	var body latestBody
	deadline := time.Now().Add(10 * time.Second)
	for len(body.Items) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("valid record never stored")
		}
		time.Sleep(200 * time.Millisecond)
		body = getLatest(t, client, "http://"+addr+"/api/telemetry/latest?limit=10")
	}
	if len(body.Items) != 1 {
		t.Fatalf("stored %d records, want 1", len(body.Items))
	}
	if body.Items[0]["pm2_5"] != nil {
		t.Errorf("pm2_5 = %v, want null", body.Items[0]["pm2_5"])
	}

	stop(t, server)
}

func startBroker(t *testing.T) (string, int) {
	t.Helper()
	ctx := context.Background()

	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:1.6",
		ExposedPorts: []string{string(mqttPort)},
		WaitingFor:   wait.ForListeningPort(mqttPort).WithStartupTimeout(30 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start mosquitto container: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Terminate(ctx)
	})

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, mqttPort)
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return host, mapped.Int()
}

func repoRootPath(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}

	repo := filepath.Clean(filepath.Join(wd, repoRootRel))
	if _, err := os.Stat(filepath.Join(repo, "go.mod")); err != nil {
		t.Fatalf("repo root %q does not contain go.mod: %v", repo, err)
	}

	return repo
}

func buildBinary(t *testing.T, repoRoot, pkg, name string) string {
	t.Helper()

	out := filepath.Join(t.TempDir(), name)

	build := exec.Command("go", "build", "-o", out, pkg)
	build.Dir = repoRoot
	build.Env = os.Environ()

	b, err := build.CombinedOutput()
	if err != nil {
		t.Fatalf("go build %s failed: %v\n%s", pkg, err, string(b))
	}

	return out
}

func start(t *testing.T, bin string, env ...string) *exec.Cmd {
	t.Helper()

	cmd := exec.Command(bin)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("start %s: %v", bin, err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})
	return cmd
}

func pickFreeAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen :0: %v", err)
	}
	defer ln.Close()

	return ln.Addr().String()
}

func waitForOK(t *testing.T, client *http.Client, url string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server not healthy after %s: %s", timeout, url)
}

func getLatest(t *testing.T, client *http.Client, url string) latestBody {
	t.Helper()

	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusOK)
	}
	var body latestBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	return body
}

func stop(t *testing.T, cmd *exec.Cmd) {
	t.Helper()

	_ = cmd.Process.Signal(syscall.SIGTERM)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		t.Fatalf("%s did not exit in time", cmd.Path)
	case err := <-done:
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				t.Fatalf("%s exited non-zero: %v", cmd.Path, err)
			}
			t.Fatalf("%s wait error: %v", cmd.Path, err)
		}
	}
}
