package flyport

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/net/html/charset"
)

const (
	// maxStatusBytes caps the status document read from a board.
	maxStatusBytes = 64 << 10

	userAgent = "flyport-bridge"
)

// StatusFetcher reads /status.xml from a board over a managed connection.
type StatusFetcher struct {
	conns *ConnectionManager
	logHolder
}

// NewStatusFetcher returns a fetcher that opens its sockets through conns.
func NewStatusFetcher(conns *ConnectionManager) *StatusFetcher {
	return &StatusFetcher{conns: conns}
}

// Fetch returns the readings of every monitored line of b that the board
// reported and that could be parsed. A missing or unreadable line is
// skipped. Connection failures and timeouts wrap ErrConnectFailed; a
// non-200 reply or malformed document wraps ErrFetchFailed. The socket is
// closed before Fetch returns.
func (f *StatusFetcher) Fetch(ctx context.Context, b Board) (Snapshot, error) {
	var snap Snapshot

	err := f.conns.WithConnection(ctx, b.Host(), b.Port(), func(conn *Connection) error {
		body, err := f.request(ctx, conn, b)
		if err != nil {
			return err
		}
		snap, err = f.parse(body, b)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// request writes an HTTP/1.1 GET and returns the response body.
func (f *StatusFetcher) request(ctx context.Context, conn *Connection, b Board) ([]byte, error) {
	url := b.StatusURL()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetchFailed, url, err)
	}
	req.Close = true
	req.Header.Set("User-Agent", userAgent)
	if auth := b.Auth(); auth != nil {
		req.SetBasicAuth(auth.Username, auth.Password)
	}

	if err := req.Write(conn); err != nil {
		return nil, ioFailure(url, "sending request", err)
	}

	resp, err := http.ReadResponse(conn.Reader(), req)
	if err != nil {
		return nil, ioFailure(url, "reading response", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: board answered %s", ErrFetchFailed, url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBytes))
	if err != nil {
		return nil, ioFailure(url, "reading body", err)
	}
	return body, nil
}

// ioFailure classifies a socket error: a board that goes silent is
// unreachable, anything else is a failed fetch.
func ioFailure(url, step string, err error) error {
	if IsTimeout(err) {
		return fmt.Errorf("%w: %s: %s: %w", ErrConnectFailed, url, step, err)
	}
	return fmt.Errorf("%w: %s: %s: %w", ErrFetchFailed, url, step, err)
}

// parse extracts the monitored lines from a status document. The first
// element with a given tag wins; later duplicates are ignored.
func (f *StatusFetcher) parse(body []byte, b Board) (Snapshot, error) {
	wanted := make(map[string]int, b.Count())
	for _, line := range b.Lines() {
		wanted[b.Kind().Tag(line)] = line
	}

	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charset.NewReaderLabel

	snap := make(Snapshot, len(wanted))
	seen := make(map[int]bool, len(wanted))
	sawRoot := false

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: malformed document: %w", ErrFetchFailed, b.StatusURL(), err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		sawRoot = true

		line, ok := wanted[se.Name.Local]
		if !ok || seen[line] {
			continue
		}
		seen[line] = true

		var text string
		if err := dec.DecodeElement(&text, &se); err != nil {
			return nil, fmt.Errorf("%w: %s: malformed element %s: %w", ErrFetchFailed, b.StatusURL(), se.Name.Local, err)
		}

		v, err := b.Kind().Parse(text)
		if err != nil {
			f.logDebug("skipping unreadable line", "board", b.Address(), "line", line, "error", err)
			continue
		}
		snap[line] = v
	}

	if !sawRoot {
		return nil, fmt.Errorf("%w: %s: empty document", ErrFetchFailed, b.StatusURL())
	}
	return snap, nil
}
