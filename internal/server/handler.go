package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jzx17/gopool/pkg/types"
	"github.com/jzx17/gopool/pkg/worker"
)

// Connection operations reported in ConnectionError.Op
const (
	OpRead  = "read"
	OpLoad  = "load"
	OpWrite = "write"
	OpClose = "close"
)

const (
	statusOK                  = "200 OK"
	statusBadRequest          = "400 Bad Request"
	statusInternalServerError = "500 Internal Server Error"

	defaultMaxLineLength  = 8 << 10
	defaultMaxHeaderLines = 100
)

// Recorder receives connection level events, e.g. for metrics
type Recorder interface {
	ConnectionAccepted()
	ConnectionError(op string)
	Written(n int)
}

type nopRecorder struct{}

func (nopRecorder) ConnectionAccepted()    {}
func (nopRecorder) ConnectionError(string) {}
func (nopRecorder) Written(int)            {}

// HandlerConfig configures a ConnectionHandler
type HandlerConfig struct {
	// ReadTimeout bounds reading the request head; zero disables the deadline
	ReadTimeout time.Duration

	// WriteTimeout bounds writing the response; zero disables the deadline
	WriteTimeout time.Duration

	// MaxHeaderLines caps the number of lines in the request head, request line included
	MaxHeaderLines int

	// MaxLineLength caps a single request line in bytes
	MaxLineLength int

	// Clock for deadlines (optional, defaults to real clock)
	Clock types.Clock

	// Recorder receives connection events (optional)
	Recorder Recorder
}

// ConnectionHandler serves one static response per connection
type ConnectionHandler struct {
	loader   *Loader
	config   HandlerConfig
	clock    types.Clock
	recorder Recorder
	log      *zap.SugaredLogger
}

// NewConnectionHandler creates a handler serving the body returned by loader
func NewConnectionHandler(loader *Loader, config HandlerConfig) *ConnectionHandler {
	if config.MaxHeaderLines <= 0 {
		config.MaxHeaderLines = defaultMaxHeaderLines
	}
	if config.MaxLineLength <= 0 {
		config.MaxLineLength = defaultMaxLineLength
	}

	recorder := config.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &ConnectionHandler{
		loader:   loader,
		config:   config,
		clock:    types.ClockOrReal(config.Clock),
		recorder: recorder,
		log:      zap.S().Named("connection_handler"),
	}
}

// Handle reads one request from conn, writes the response and closes conn.
// Failures are returned as *types.ConnectionError and never panic.
func (h *ConnectionHandler) Handle(ctx context.Context, connID string, conn net.Conn) (err error) {
	log := h.log.With("conn_id", connID, "remote", conn.RemoteAddr().String())
	if id, ok := worker.WorkerIDFromContext(ctx); ok {
		log = log.With("worker_id", id)
	}

	defer func() {
		if cerr := conn.Close(); cerr != nil && err == nil && !errors.Is(cerr, net.ErrClosed) {
			err = types.NewConnectionError(connID, OpClose, cerr)
		}

		var connErr *types.ConnectionError
		if errors.As(err, &connErr) {
			h.recorder.ConnectionError(connErr.Op)
			log.Warnw("connection failed", "op", connErr.Op, "error", connErr.Err)
		}
	}()

	if h.config.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(h.clock.Now().Add(h.config.ReadTimeout)); err != nil {
			return types.NewConnectionError(connID, OpRead, err)
		}
	}

	requestLine, err := h.readRequest(conn)
	if err != nil {
		if errors.Is(err, types.ErrMalformedRequest) {
			// best effort; the read error is what gets reported
			_, _ = h.respond(conn, statusBadRequest, nil)
		}
		return types.NewConnectionError(connID, OpRead, err)
	}
	log.Debugw("request received", "request", requestLine)

	body, err := h.loader.Load()
	if err != nil {
		_, _ = h.respond(conn, statusInternalServerError, nil)
		return types.NewConnectionError(connID, OpLoad, err)
	}

	n, err := h.respond(conn, statusOK, body)
	if err != nil {
		return types.NewConnectionError(connID, OpWrite, err)
	}

	log.Debugw("response written", "bytes", n)
	return nil
}

// readRequest consumes the request head up to the blank line and returns the request line
func (h *ConnectionHandler) readRequest(conn net.Conn) (string, error) {
	r := bufio.NewReaderSize(conn, h.config.MaxLineLength)

	var requestLine string
	for lines := 0; ; lines++ {
		line, isPrefix, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if lines == 0 {
					return "", fmt.Errorf("%w: empty request", types.ErrMalformedRequest)
				}
				// the client half-closed without a blank line; the head is complete
				return requestLine, nil
			}
			return "", err
		}
		if isPrefix {
			return "", fmt.Errorf("%w: line exceeds %d bytes", types.ErrMalformedRequest, h.config.MaxLineLength)
		}
		if len(line) == 0 {
			if lines == 0 {
				return "", fmt.Errorf("%w: missing request line", types.ErrMalformedRequest)
			}
			return requestLine, nil
		}
		if lines >= h.config.MaxHeaderLines {
			return "", fmt.Errorf("%w: more than %d header lines", types.ErrMalformedRequest, h.config.MaxHeaderLines)
		}

		if lines == 0 {
			requestLine = string(line)
			if !validRequestLine(requestLine) {
				return "", fmt.Errorf("%w: bad request line %q", types.ErrMalformedRequest, requestLine)
			}
		}
	}
}

func validRequestLine(line string) bool {
	parts := strings.Fields(line)
	return len(parts) == 3 && strings.HasPrefix(parts[2], "HTTP/")
}

// respond writes the status line, Content-Length and body in a single Write
func (h *ConnectionHandler) respond(conn net.Conn, status string, body []byte) (int, error) {
	if h.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(h.clock.Now().Add(h.config.WriteTimeout)); err != nil {
			return 0, err
		}
	}

	n, err := conn.Write(buildResponse(status, body))
	h.recorder.Written(n)
	return n, err
}

func buildResponse(status string, body []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(body) + 64)
	buf.WriteString("HTTP/1.1 ")
	buf.WriteString(status)
	buf.WriteString("\r\nContent-Length: ")
	buf.WriteString(strconv.Itoa(len(body)))
	buf.WriteString("\r\n\r\n")
	buf.Write(body)
	return buf.Bytes()
}
