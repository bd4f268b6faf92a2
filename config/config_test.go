package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Clouded-Sabre/Tun-TCP/lib"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeFile(t, "config.yaml", `
endpoint:
  local_ip: 10.0.0.2
  listen_ports: [80, 8080]
  verify_checksum: false
connection:
  random_iss: false
  iss: 42
  window_size: 1024
`)

	ec, cc, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if ec.LocalIP != "10.0.0.2" || !reflect.DeepEqual(ec.ListenPorts, []int{80, 8080}) || ec.VerifyChecksum {
		t.Errorf("unexpected endpoint config %+v", ec)
	}
	if ec.MTU != lib.DefaultMTU {
		t.Errorf("expected default MTU %d, but got %d", lib.DefaultMTU, ec.MTU)
	}
	if cc.RandomISS || cc.ISS != 42 || cc.WindowSize != 1024 {
		t.Errorf("unexpected connection config %+v", cc)
	}
	if cc.TTL != lib.DefaultTTL {
		t.Errorf("expected default TTL %d, but got %d", lib.DefaultTTL, cc.TTL)
	}
}

func TestLoadConfigEmptyFile(t *testing.T) {
	ec, cc, err := LoadConfig(writeFile(t, "config.yaml", ""))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !reflect.DeepEqual(ec, lib.DefaultEndpointConfig()) {
		t.Errorf("expected defaults, but got %+v", ec)
	}
	if !reflect.DeepEqual(cc, lib.DefaultConnectionConfig()) {
		t.Errorf("expected defaults, but got %+v", cc)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{name: "unknown key", content: "endpoint:\n  mtuu: 1500\n"},
		{name: "tiny mtu", content: "endpoint:\n  mtu: 20\n"},
		{name: "bad port", content: "endpoint:\n  listen_ports: [70000]\n"},
		{name: "zero ttl", content: "connection:\n  ttl: 0\n"},
		{name: "not yaml", content: "endpoint: [\n"},
	}

	for _, tc := range testCases {
		if _, _, err := LoadConfig(writeFile(t, "config.yaml", tc.content)); err == nil {
			t.Errorf("For %s, expected an error, but got none", tc.name)
		}
	}

	if _, _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); !os.IsNotExist(err) {
		t.Errorf("expected a not-exist error, but got %v", err)
	}
}

func TestReadConfig(t *testing.T) {
	settings, err := ReadConfig(writeFile(t, "app.yaml", "tun_name: tun7\naddress: 10.0.0.1/24\n"))
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	expected := DefaultAppSettings()
	expected.TunName = "tun7"
	expected.Address = "10.0.0.1/24"
	if !reflect.DeepEqual(settings, expected) {
		t.Errorf("expected %+v, but got %+v", expected, settings)
	}

	if _, err := ReadConfig(writeFile(t, "app.yaml", "tun: tun7\n")); err == nil {
		t.Errorf("expected an error for an unknown key, but got none")
	}
	if _, err := ReadConfig(writeFile(t, "app.yaml", "tun_name: \"\"\n")); err == nil {
		t.Errorf("expected an error for an empty tun_name, but got none")
	}
}

func TestReadConfigTransport(t *testing.T) {
	settings, err := ReadConfig(writeFile(t, "app.yaml", "transport: rawsocket\n"))
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	if settings.Transport != TransportRawSocket {
		t.Errorf("expected transport %q, but got %q", TransportRawSocket, settings.Transport)
	}
	if _, err := ReadConfig(writeFile(t, "app.yaml", "transport: pcap\n")); err == nil {
		t.Errorf("expected an error for an unknown transport, but got none")
	}
}

func TestFitFrameSize(t *testing.T) {
	testCases := []struct {
		appMTU, frameMTU int
		expected         int
		changed          bool
	}{
		{appMTU: 1500, frameMTU: 1500, expected: 1500, changed: false},
		{appMTU: 9000, frameMTU: 1500, expected: 9000, changed: true},
		{appMTU: 1280, frameMTU: 1500, expected: 1500, changed: false},
	}

	for _, tc := range testCases {
		app := DefaultAppSettings()
		app.MTU = tc.appMTU
		ec := lib.DefaultEndpointConfig()
		ec.MTU = tc.frameMTU
		changed := FitFrameSize(app, ec)
		if changed != tc.changed || ec.MTU != tc.expected {
			t.Errorf("For link MTU %d and frame size %d, expected %d (changed %t), but got %d (changed %t)",
				tc.appMTU, tc.frameMTU, tc.expected, tc.changed, ec.MTU, changed)
		}
	}
}
