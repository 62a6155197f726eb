package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/serhmarch/gomodbuslib/port"
)

func TestDefaultsPopulateSettings(t *testing.T) {
	s := NewSettings()
	if s.Type() != "TCP" {
		t.Fatalf("Type() = %q, want TCP", s.Type())
	}
	if s.Port() != 502 {
		t.Fatalf("Port() = %d, want 502", s.Port())
	}
	if s.BroadcastEnabled() {
		t.Fatalf("BroadcastEnabled() = true, want false")
	}
}

func TestUnknownKeysAreIgnored(t *testing.T) {
	s := NewSettings()
	s["notARecognizedKey"] = "whatever"
	if s.Port() != 502 {
		t.Fatalf("unknown key perturbed a recognized accessor")
	}
}

func TestParityStopBitsFlowControlParsing(t *testing.T) {
	cases := []struct {
		key  string
		val  string
		want any
	}{
		{KeyParity, "Even", port.ParityEven},
		{KeyParity, "Space", port.ParitySpace},
		{KeyParity, "bogus", port.ParityNone},
		{KeyStopBits, "1.5", port.StopBits1_5},
		{KeyStopBits, "2", port.StopBits2},
		{KeyFlowControl, "Hardware", port.FlowHardware},
	}
	for _, c := range cases {
		s := NewSettings()
		s[c.key] = c.val
		var got any
		switch c.key {
		case KeyParity:
			got = s.Parity()
		case KeyStopBits:
			got = s.StopBits()
		case KeyFlowControl:
			got = s.FlowControl()
		}
		if got != c.want {
			t.Fatalf("%s=%s: got %v, want %v", c.key, c.val, got, c.want)
		}
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")

	s := NewSettings()
	s[KeyHost] = "192.168.0.10"
	s[KeyPort] = "1502"
	if err := s.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Host() != "192.168.0.10" || loaded.Port() != 1502 {
		t.Fatalf("round trip mismatch: host=%s port=%d", loaded.Host(), loaded.Port())
	}
}

func TestTCPSettingsAndSerialSettingsBuilders(t *testing.T) {
	s := NewSettings()
	s[KeyHost] = "example.org"
	s[KeyPort] = "503"
	s[KeyTimeout] = "250"
	tcp := s.TCPSettings()
	if tcp.Host != "example.org" || tcp.Port != 503 {
		t.Fatalf("TCPSettings() = %+v", tcp)
	}
	wantTimeout := 250 * time.Millisecond
	if tcp.ConnectTimeout != wantTimeout {
		t.Fatalf("TCPSettings().ConnectTimeout = %v, want %v", tcp.ConnectTimeout, wantTimeout)
	}
	if tcp.ReadTimeout != wantTimeout {
		t.Fatalf("TCPSettings().ReadTimeout = %v, want %v", tcp.ReadTimeout, wantTimeout)
	}

	s[KeyBaudRate] = "19200"
	s[KeyDataBits] = "7"
	serial := s.SerialSettings()
	if serial.BaudRate != 19200 || serial.DataBits != 7 {
		t.Fatalf("SerialSettings() = %+v", serial)
	}
}
