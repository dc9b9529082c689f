package manifest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// WireTerminator ends a manifest sent over a connection. The reader stops at
// the first empty line, so any blank line works; this is what clients send.
const WireTerminator = "\r\n\r\n"

// WireErrorPrefix starts the single line a server sends instead of an archive
// when it cannot serve a request. Archives always start with "PK".
const WireErrorPrefix = "ERR "

var (
	ErrMalformed = errors.New("malformed manifest")
	ErrTooLarge  = errors.New("manifest exceeds size limit")
)

// Parse decodes a JSON object of path -> fingerprint.
func Parse(data []byte) (Manifest, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrMalformed)
	}

	var m Manifest
	if err := jsonUnmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}
	return m, nil
}

// Marshal encodes the manifest as a single JSON object.
func Marshal(m Manifest) ([]byte, error) {
	if m == nil {
		m = Manifest{}
	}
	return jsonMarshal(m)
}

// ReadWire reads lines from r until an empty line or end of stream and parses
// them as one manifest. A maxBytes of zero or less disables the size limit.
func ReadWire(r io.Reader, maxBytes int64) (Manifest, error) {
	if maxBytes > 0 {
		r = io.LimitReader(r, maxBytes+1)
	}
	br := bufio.NewReader(r)

	var body strings.Builder
	var total int64
	for {
		line, err := br.ReadString('\n')
		total += int64(len(line))
		if maxBytes > 0 && total > maxBytes {
			return nil, ErrTooLarge
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed != "" {
			body.WriteString(trimmed)
			body.WriteByte('\n')
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read manifest: %w", err)
		}
		if trimmed == "" {
			break
		}
	}

	return Parse([]byte(body.String()))
}

// WriteWire sends body verbatim followed by the end-of-manifest sentinel.
func WriteWire(w io.Writer, body []byte) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(body); err != nil {
		return err
	}
	if _, err := bw.WriteString(WireTerminator); err != nil {
		return err
	}
	return bw.Flush()
}
