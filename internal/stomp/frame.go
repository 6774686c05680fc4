// Package stomp encodes and decodes STOMP 1.2 frames carried in WebSocket
// text messages.
package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Client and server commands.
const (
	CmdConnect     = "CONNECT"
	CmdStomp       = "STOMP"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdSend        = "SEND"
	CmdAck         = "ACK"
	CmdNack        = "NACK"
	CmdBegin       = "BEGIN"
	CmdCommit      = "COMMIT"
	CmdAbort       = "ABORT"
	CmdDisconnect  = "DISCONNECT"

	CmdConnected = "CONNECTED"
	CmdMessage   = "MESSAGE"
	CmdReceipt   = "RECEIPT"
	CmdError     = "ERROR"
)

// Well-known headers.
const (
	HdrAcceptVersion = "accept-version"
	HdrVersion       = "version"
	HdrHost          = "host"
	HdrHeartBeat     = "heart-beat"
	HdrLogin         = "login"
	HdrAuthorization = "Authorization"
	HdrUserName      = "user-name"
	HdrDestination   = "destination"
	HdrID            = "id"
	HdrSubscription  = "subscription"
	HdrMessageID     = "message-id"
	HdrReceipt       = "receipt"
	HdrReceiptID     = "receipt-id"
	HdrContentType   = "content-type"
	HdrContentLength = "content-length"
	HdrMessage       = "message"
)

var (
	ErrEmptyFrame      = errors.New("stomp: empty frame")
	ErrUnknownCommand  = errors.New("stomp: unknown command")
	ErrMalformedHeader = errors.New("stomp: malformed header")
	ErrMissingNull     = errors.New("stomp: frame not terminated by NUL")
)

var knownCommands = map[string]bool{
	CmdConnect: true, CmdStomp: true, CmdSubscribe: true, CmdUnsubscribe: true,
	CmdSend: true, CmdAck: true, CmdNack: true, CmdBegin: true, CmdCommit: true,
	CmdAbort: true, CmdDisconnect: true,
	CmdConnected: true, CmdMessage: true, CmdReceipt: true, CmdError: true,
}

// Frame is one STOMP frame. Repeated headers keep their first value.
type Frame struct {
	Command string
	Header  map[string]string
	Body    []byte
}

// New builds a frame from alternating header keys and values.
func New(command string, kv ...string) *Frame {
	f := &Frame{Command: command, Header: make(map[string]string, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Header[kv[i]] = kv[i+1]
	}
	return f
}

// Get returns a header value, or "" when absent.
func (f *Frame) Get(key string) string {
	if f.Header == nil {
		return ""
	}
	return f.Header[key]
}

// Set sets a header value.
func (f *Frame) Set(key, value string) {
	if f.Header == nil {
		f.Header = make(map[string]string)
	}
	f.Header[key] = value
}

// escapes reports whether header values are escaped for command. CONNECT and
// CONNECTED predate escaping and carry raw values.
func escapes(command string) bool {
	return command != CmdConnect && command != CmdConnected
}

var (
	headerEscaper   = strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)
	errBadEscapeSeq = fmt.Errorf("%w: bad escape sequence", ErrMalformedHeader)
)

func unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			return "", errBadEscapeSeq
		}
		switch s[i] {
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		case '\\':
			b.WriteByte('\\')
		default:
			return "", errBadEscapeSeq
		}
	}
	return b.String(), nil
}

// IsHeartbeat reports whether data is a bare heart-beat (end-of-line bytes
// only).
func IsHeartbeat(data []byte) bool {
	return len(data) > 0 && len(bytes.Trim(data, "\r\n")) == 0
}

// Parse decodes the first frame in data. Leading end-of-line bytes are
// skipped and anything after the terminating NUL is ignored.
func Parse(data []byte) (*Frame, error) {
	f, _, err := parseOne(data)
	return f, err
}

// ParseAll decodes every frame in data, which may hold several frames
// separated by end-of-line bytes.
func ParseAll(data []byte) ([]*Frame, error) {
	var frames []*Frame
	for len(bytes.TrimLeft(data, "\r\n")) > 0 {
		f, rest, err := parseOne(data)
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
		data = rest
	}
	return frames, nil
}

func parseOne(data []byte) (*Frame, []byte, error) {
	data = bytes.TrimLeft(data, "\r\n")
	if len(data) == 0 {
		return nil, nil, ErrEmptyFrame
	}

	line, rest, ok := cutLine(data)
	if !ok {
		return nil, nil, ErrMissingNull
	}
	command := string(line)
	if !knownCommands[command] {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
	f := &Frame{Command: command, Header: make(map[string]string)}

	for {
		line, rest, ok = cutLine(rest)
		if !ok {
			return nil, nil, ErrMissingNull
		}
		if len(line) == 0 {
			break
		}
		k, v, found := bytes.Cut(line, []byte{':'})
		if !found || len(k) == 0 {
			return nil, nil, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
		}
		key, value := string(k), string(v)
		if escapes(command) {
			var err error
			if key, err = unescape(key); err != nil {
				return nil, nil, err
			}
			if value, err = unescape(value); err != nil {
				return nil, nil, err
			}
		}
		if _, seen := f.Header[key]; !seen {
			f.Header[key] = value
		}
	}

	if cl, ok := f.Header[HdrContentLength]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 {
			return nil, nil, fmt.Errorf("%w: content-length %q", ErrMalformedHeader, cl)
		}
		if n >= len(rest) || rest[n] != 0 {
			return nil, nil, ErrMissingNull
		}
		f.Body = rest[:n]
		return f, rest[n+1:], nil
	}

	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return nil, nil, ErrMissingNull
	}
	f.Body = rest[:end]
	return f, rest[end+1:], nil
}

// cutLine splits at the first LF, dropping an optional preceding CR.
func cutLine(b []byte) (line, rest []byte, ok bool) {
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		return nil, nil, false
	}
	line = b[:i]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, b[i+1:], true
}

// Encode serializes f. Headers are written in sorted order and a
// content-length header is added whenever there is a body.
func Encode(f *Frame) []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')

	keys := make([]string, 0, len(f.Header))
	for k := range f.Header {
		if k == HdrContentLength {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	esc := escapes(f.Command)
	for _, k := range keys {
		v := f.Header[k]
		if esc {
			k, v = headerEscaper.Replace(k), headerEscaper.Replace(v)
		}
		buf.WriteString(k)
		buf.WriteByte(':')
		buf.WriteString(v)
		buf.WriteByte('\n')
	}
	if len(f.Body) > 0 {
		buf.WriteString(HdrContentLength)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(len(f.Body)))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// HeartBeat parses a "cx,cy" heart-beat header. Missing or malformed values
// yield zeros.
func HeartBeat(value string) (cx, cy int) {
	a, b, ok := strings.Cut(value, ",")
	if !ok {
		return 0, 0
	}
	cx, errX := strconv.Atoi(strings.TrimSpace(a))
	cy, errY := strconv.Atoi(strings.TrimSpace(b))
	if errX != nil || errY != nil || cx < 0 || cy < 0 {
		return 0, 0
	}
	return cx, cy
}
