package gelf

import (
	"encoding/json"
	"net"
	"os"
	"strings"
	"time"
)

// Writer sends GELF messages over UDP and implements io.Writer
// so it can be used with log.SetOutput via io.MultiWriter.
type Writer struct {
	conn     net.Conn
	hostname string
	service  string
}

// New creates a GELF UDP writer connected to addr (e.g. "172.17.0.1:12201").
func New(addr, service string) (*Writer, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = service + "-server"
	}

	return &Writer{conn: conn, hostname: hostname, service: service}, nil
}

func (w *Writer) Close() error {
	return w.conn.Close()
}

// Write implements io.Writer. Each call sends one GELF message.
// The date prefix of the standard logger and the trailing newline are stripped.
func (w *Writer) Write(p []byte) (int, error) {
	short := stripLogPrefix(strings.TrimRight(string(p), "\n"))

	msg := map[string]any{
		"version":       "1.1",
		"host":          w.hostname,
		"short_message": short,
		"timestamp":     float64(time.Now().UnixNano()) / 1e9,
		"level":         Level(short),
		"_service":      w.service,
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return len(p), nil // don't fail the log call
	}

	// Fire-and-forget
	w.conn.Write(payload)
	return len(p), nil
}

// stripLogPrefix drops a "2006/01/02 15:04:05 " prefix when present.
func stripLogPrefix(msg string) string {
	if len(msg) > 20 && msg[4] == '/' && msg[7] == '/' && msg[10] == ' ' && msg[13] == ':' {
		return msg[20:]
	}
	return msg
}

// Level maps a log line to a syslog severity.
func Level(short string) int {
	switch {
	case strings.Contains(short, "PANIC:"), strings.Contains(short, "Fatal"), strings.HasPrefix(short, "Error:"):
		return 3
	case strings.HasPrefix(short, "Warning:"):
		return 4
	}
	return 6
}
