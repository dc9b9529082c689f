package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/laj3/laj3/internal/manifest"
)

type sessionState int

const (
	stateAwaitManifest sessionState = iota
	stateDiffing
	stateArchiving
	stateSending
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateAwaitManifest:
		return "await_manifest"
	case stateDiffing:
		return "diffing"
	case stateArchiving:
		return "archiving"
	case stateSending:
		return "sending"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// session is one request/response exchange. A connection carries exactly one
// session and is closed when it ends.
type session struct {
	id        string
	conn      net.Conn
	state     sessionState
	client    manifest.Manifest
	reference manifest.Manifest
	diff      manifest.DiffSet
	blob      []byte
}

// replyError is a failure the client is told about before the connection is
// closed. Any other error means the transport itself is unusable.
type replyError struct {
	reason string
	err    error
}

func (e *replyError) Error() string {
	return e.reason + ": " + e.err.Error()
}

func (e *replyError) Unwrap() error {
	return e.err
}

func errorLine(reason string) []byte {
	return []byte(manifest.WireErrorPrefix + reason + "\n")
}

func (s *Server) handleConnection(ctx context.Context, id string, conn net.Conn) {
	defer conn.Close()

	start := time.Now()
	sess := &session{id: id, conn: conn, state: stateAwaitManifest}

	for sess.state != stateClosed {
		next, err := s.step(ctx, sess)
		if err != nil {
			s.fail(sess, err)
			return
		}
		slog.Debug("session transition", "conn", id, "from", sess.state, "to", next)
		sess.state = next
	}

	s.stats.served.Add(1)
	s.stats.bytesSent.Add(int64(len(sess.blob)))
	slog.Info("install served",
		"conn", id,
		"remote", conn.RemoteAddr().String(),
		"clientFiles", len(sess.client),
		"sent", len(sess.diff),
		"size", humanize.Bytes(uint64(len(sess.blob))),
		"took", time.Since(start),
	)
}

func (s *Server) step(ctx context.Context, sess *session) (sessionState, error) {
	switch sess.state {
	case stateAwaitManifest:
		if s.config.ReadTimeout > 0 {
			_ = sess.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}
		m, err := manifest.ReadWire(sess.conn, s.config.MaxManifestBytes)
		if err != nil {
			if errors.Is(err, manifest.ErrMalformed) || errors.Is(err, manifest.ErrTooLarge) {
				return stateClosed, &replyError{reason: "invalid manifest", err: err}
			}
			return stateClosed, err
		}
		sess.client = m
		return stateDiffing, nil

	case stateDiffing:
		reference, err := s.source.Load(ctx)
		if err != nil {
			return stateClosed, &replyError{reason: "server manifest unavailable", err: err}
		}
		sess.reference = reference
		sess.diff = manifest.Diff(sess.client, reference)
		return stateArchiving, nil

	case stateArchiving:
		// Only files the reference lists are ever read from the content dir.
		sess.diff = listed(sess.diff, sess.reference)
		blob, stats, err := s.archiver.Archive(ctx, sess.diff)
		if err != nil {
			return stateClosed, &replyError{reason: "archive failed", err: err}
		}
		if stats.Skipped > 0 {
			slog.Warn("archive incomplete", "conn", sess.id, "added", stats.Added, "skipped", stats.Skipped)
		}
		sess.blob = blob
		return stateSending, nil

	case stateSending:
		if s.config.WriteTimeout > 0 {
			_ = sess.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		}
		if _, err := sess.conn.Write(sess.blob); err != nil {
			return stateClosed, fmt.Errorf("send archive: %w", err)
		}
		return stateClosed, nil
	}

	return stateClosed, nil
}

// listed keeps the diff paths present in reference, in order.
func listed(diff manifest.DiffSet, reference manifest.Manifest) manifest.DiffSet {
	out := make(manifest.DiffSet, 0, len(diff))
	for _, p := range diff {
		if _, ok := reference[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *Server) fail(sess *session, err error) {
	s.stats.failed.Add(1)

	var rerr *replyError
	if !errors.As(err, &rerr) {
		slog.Warn("session aborted", "conn", sess.id, "state", sess.state, "error", err)
		return
	}

	slog.Warn("session failed", "conn", sess.id, "state", sess.state, "error", err)
	_ = sess.conn.SetDeadline(time.Now().Add(rejectTimeout))
	if _, werr := sess.conn.Write(errorLine(rerr.reason)); werr != nil {
		slog.Debug("session error reply", "conn", sess.id, "error", werr)
		return
	}
	drain(sess.conn)
}

// drain reads and discards client input until EOF, the connection deadline
// or drainLimit.
func drain(conn net.Conn) {
	_, _ = io.Copy(io.Discard, io.LimitReader(conn, drainLimit))
}
