// Package config implements the settings interface (spec.md §6): a
// map[string]string-backed configuration consumed by ports and the
// listener, plus a read-only defaults registry and JSON load/save helpers.
// It generalizes the teacher's Config/ConnectionConfig/ModbusConfig
// (config/config.go) from a single fixed JSON shape into the open,
// string-keyed settings map spec.md §6 and §9 (Defaults::instance())
// describe, since the new model has to carry both TCP and serial settings
// under one key space and silently ignore unknown keys.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/serhmarch/gomodbuslib/port"
)

// Keys recognized by Settings (spec.md §6).
const (
	KeyType             = "type"
	KeyHost             = "host"
	KeyPort             = "port"
	KeyTimeout          = "timeout"
	KeyMaxConn          = "maxconn"
	KeySerialPortName   = "serialPortName"
	KeyBaudRate         = "baudRate"
	KeyDataBits         = "dataBits"
	KeyParity           = "parity"
	KeyStopBits         = "stopBits"
	KeyFlowControl      = "flowControl"
	KeyTimeoutFirstByte = "timeoutFirstByte"
	KeyTimeoutInterByte = "timeoutInterByte"
	KeyBroadcastEnabled = "broadcastEnabled"
)

// Settings is a flat map of recognized keys to their string
// representation; unknown keys are ignored rather than rejected, matching
// spec.md §6.
type Settings map[string]string

// NewSettings returns an empty Settings populated from Defaults.
func NewSettings() Settings {
	s := make(Settings)
	for k, v := range Defaults {
		s[k] = v
	}
	return s
}

// Defaults is the read-only registry replacing the teacher's
// Defaults::instance() singleton (spec.md §9): a package-level constant
// table instead of a lazily-initialized object.
var Defaults = Settings{
	KeyType:             "TCP",
	KeyHost:             "localhost",
	KeyPort:             "502",
	KeyTimeout:          "1000",
	KeyMaxConn:          "10",
	KeySerialPortName:   "",
	KeyBaudRate:         "9600",
	KeyDataBits:         "8",
	KeyParity:           "None",
	KeyStopBits:         "1",
	KeyFlowControl:      "None",
	KeyTimeoutFirstByte: "1000",
	KeyTimeoutInterByte: "50",
	KeyBroadcastEnabled: "false",
}

func (s Settings) get(key, def string) string {
	if v, ok := s[key]; ok && v != "" {
		return v
	}
	return def
}

func (s Settings) getInt(key string, def int) int {
	v := s.get(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (s Settings) getBool(key string, def bool) bool {
	v := s.get(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Type returns the configured framer kind ("TCP", "RTU", or "ASC").
func (s Settings) Type() string { return s.get(KeyType, Defaults[KeyType]) }

// Host returns the TCP client target hostname or IP.
func (s Settings) Host() string { return s.get(KeyHost, Defaults[KeyHost]) }

// Port returns the TCP port number.
func (s Settings) Port() int { return s.getInt(KeyPort, 502) }

// Timeout returns the TCP connect/read timeout.
func (s Settings) Timeout() time.Duration {
	return time.Duration(s.getInt(KeyTimeout, 1000)) * time.Millisecond
}

// MaxConn returns the TCP server max simultaneous connections.
func (s Settings) MaxConn() int { return s.getInt(KeyMaxConn, 10) }

// SerialPortName returns the OS serial device name.
func (s Settings) SerialPortName() string { return s.get(KeySerialPortName, "") }

// BaudRate returns the configured bits/second.
func (s Settings) BaudRate() int { return s.getInt(KeyBaudRate, 9600) }

// DataBits returns the configured data bits (5-8).
func (s Settings) DataBits() int { return s.getInt(KeyDataBits, 8) }

// Parity parses the "None"/"Even"/"Odd"/"Space"/"Mark" key into a
// port.Parity value.
func (s Settings) Parity() port.Parity {
	switch s.get(KeyParity, "None") {
	case "Even":
		return port.ParityEven
	case "Odd":
		return port.ParityOdd
	case "Space":
		return port.ParitySpace
	case "Mark":
		return port.ParityMark
	default:
		return port.ParityNone
	}
}

// StopBits parses the "1"/"1.5"/"2" key into a port.StopBits value.
func (s Settings) StopBits() port.StopBits {
	switch s.get(KeyStopBits, "1") {
	case "1.5":
		return port.StopBits1_5
	case "2":
		return port.StopBits2
	default:
		return port.StopBits1
	}
}

// FlowControl parses the "None"/"Hardware"/"Software" key into a
// port.FlowControl value.
func (s Settings) FlowControl() port.FlowControl {
	switch s.get(KeyFlowControl, "None") {
	case "Hardware":
		return port.FlowHardware
	case "Software":
		return port.FlowSoftware
	default:
		return port.FlowNone
	}
}

// TimeoutFirstByte returns the first-byte read timeout.
func (s Settings) TimeoutFirstByte() time.Duration {
	return time.Duration(s.getInt(KeyTimeoutFirstByte, 1000)) * time.Millisecond
}

// TimeoutInterByte returns the inter-byte read timeout.
func (s Settings) TimeoutInterByte() time.Duration {
	return time.Duration(s.getInt(KeyTimeoutInterByte, 50)) * time.Millisecond
}

// BroadcastEnabled reports whether a server should accept unit 0 as
// broadcast.
func (s Settings) BroadcastEnabled() bool { return s.getBool(KeyBroadcastEnabled, false) }

// TCPSettings builds a port.TCPSettings from the recognized TCP keys. The
// single `timeout` key governs both the connect and read timeouts (spec.md
// §6).
func (s Settings) TCPSettings() port.TCPSettings {
	return port.TCPSettings{
		Host:           s.Host(),
		Port:           s.Port(),
		ConnectTimeout: s.Timeout(),
		ReadTimeout:    s.Timeout(),
	}
}

// SerialSettings builds a port.SerialSettings from the recognized serial
// keys.
func (s Settings) SerialSettings() port.SerialSettings {
	return port.SerialSettings{
		PortName:         s.SerialPortName(),
		BaudRate:         s.BaudRate(),
		DataBits:         s.DataBits(),
		Parity:           s.Parity(),
		StopBits:         s.StopBits(),
		FlowControl:      s.FlowControl(),
		TimeoutFirstByte: s.TimeoutFirstByte(),
		TimeoutInterByte: s.TimeoutInterByte(),
	}
}

// Load reads Settings from a JSON file. Unknown keys in the file are kept
// verbatim in the map (and simply never consulted by the typed accessors).
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	s := NewSettings()
	for k, v := range raw {
		s[k] = v
	}
	return s, nil
}

// Save writes Settings to a JSON file.
func (s Settings) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
