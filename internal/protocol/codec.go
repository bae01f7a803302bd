// Package protocol implements the wire format spoken between a ccrelay
// invocation and the relay daemon over the local unix socket.
//
// Request:  "{cwd}\b{arg1}\b{arg2}...\b{argN}\0"
// Reply:    "{exitCode}\0{stdout}\0{stderr}\0"
//
// The delimiter is a raw backspace byte, which cannot occur in legitimate
// paths or compiler arguments. Both directions share the same fixed message
// capacity; anything bigger is refused, never truncated.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Delim separates the cwd and each argument inside a request.
	Delim byte = '\b'

	// MaxMessageSize caps both the encoded request and the reply read
	// buffer. Replies at or above this size cannot be represented; see
	// the receive path in internal/client.
	MaxMessageSize = 32 * 1024
)

var (
	// ErrTooLarge is returned when an encoded request would not fit in
	// MaxMessageSize. Callers treat it as a local-fallback trigger.
	ErrTooLarge = errors.New("encoded request exceeds message capacity")

	// ErrBadArgument is returned when the cwd or an argument contains the
	// delimiter byte and therefore cannot be framed.
	ErrBadArgument = errors.New("argument contains the reserved delimiter byte")

	// ErrMalformedReply is returned when a daemon reply does not follow
	// the "{exitCode}\0{stdout}\0{stderr}" layout.
	ErrMalformedReply = errors.New("malformed daemon reply")
)

// Reply is a decoded daemon response: the exit code the invocation should
// terminate with, plus the captured output streams. Stdout and Stderr may be
// empty and may contain newlines, but never NUL bytes.
type Reply struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// EncodeRequest frames cwd and the compiler command line into a single
// request message. The encoded size is validated up front so an oversized
// invocation is rejected before any socket write happens.
func EncodeRequest(cwd string, args []string) ([]byte, error) {
	total := len(cwd) + 1 // cwd plus its delimiter (the last one becomes NUL)
	for _, arg := range args {
		total += len(arg) + 1
	}
	if total > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes for %d args", ErrTooLarge, total, len(args))
	}
	if strings.IndexByte(cwd, Delim) >= 0 {
		return nil, fmt.Errorf("%w: cwd %q", ErrBadArgument, cwd)
	}

	buf := make([]byte, 0, total)
	buf = append(buf, cwd...)
	for _, arg := range args {
		if strings.IndexByte(arg, Delim) >= 0 {
			return nil, fmt.Errorf("%w: %q", ErrBadArgument, arg)
		}
		buf = append(buf, Delim)
		buf = append(buf, arg...)
	}
	buf = append(buf, 0)
	return buf, nil
}

// DecodeRequest is the inverse of EncodeRequest. The daemon side uses the
// same framing; keeping both directions here keeps the format in one place.
func DecodeRequest(data []byte) (cwd string, args []string, err error) {
	if len(data) == 0 || data[len(data)-1] != 0 {
		return "", nil, errors.New("request missing NUL terminator")
	}
	parts := bytes.Split(data[:len(data)-1], []byte{Delim})
	cwd = string(parts[0])
	args = make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		args = append(args, string(p))
	}
	return cwd, args, nil
}

// EncodeReply frames a daemon response.
func EncodeReply(exitCode int, stdout, stderr []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(strconv.Itoa(exitCode))
	buf.WriteByte(0)
	buf.Write(stdout)
	buf.WriteByte(0)
	buf.Write(stderr)
	buf.WriteByte(0)
	return buf.Bytes()
}

// DecodeReply parses a daemon response. The exit-code field must parse
// entirely as a base-10 integer; an empty field or trailing garbage before
// the first NUL is ErrMalformedReply. The trailing NUL after stderr is
// optional, so a reply cut exactly at the message end still decodes.
func DecodeReply(data []byte) (Reply, error) {
	i := bytes.IndexByte(data, 0)
	if i < 0 {
		return Reply{}, fmt.Errorf("%w: no exit-code terminator", ErrMalformedReply)
	}
	code, err := strconv.Atoi(string(data[:i]))
	if err != nil {
		return Reply{}, fmt.Errorf("%w: exit-code field %q", ErrMalformedReply, data[:i])
	}

	rest := data[i+1:]
	j := bytes.IndexByte(rest, 0)
	if j < 0 {
		return Reply{}, fmt.Errorf("%w: no stdout terminator", ErrMalformedReply)
	}
	stdout := rest[:j]

	stderr := rest[j+1:]
	if k := bytes.IndexByte(stderr, 0); k >= 0 {
		stderr = stderr[:k]
	}
	return Reply{ExitCode: code, Stdout: stdout, Stderr: stderr}, nil
}
