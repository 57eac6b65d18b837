package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrTransportClosed is returned by Receive after the transport is closed.
var ErrTransportClosed = errors.New("transport is closed")

// Transport is the session's framed pipe to the relay. Implementations must
// allow concurrent Send calls; Receive is called from a single goroutine.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

const (
	wsHandshakeTimeout = 10 * time.Second
	wsWriteTimeout     = 10 * time.Second
)

// wsTransport is the production Transport over a gorilla websocket
// connection.
type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Dial opens a websocket connection to the relay's room endpoint. The header
// carries the caller's credential.
func Dial(ctx context.Context, url string, header http.Header) (Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Join(err, errors.New(resp.Status))
		}
		return nil, err
	}
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline := time.Now().Add(wsWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Receive(ctx context.Context) ([]byte, error) {
	if d, ok := ctx.Deadline(); ok {
		if err := t.conn.SetReadDeadline(d); err != nil {
			return nil, err
		}
	}
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, ErrTransportClosed
		}
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) Close() error {
	t.writeMu.Lock()
	deadline := time.Now().Add(wsWriteTimeout)
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	t.writeMu.Unlock()
	return t.conn.Close()
}

// pipeTransport is an in-process Transport used by tests and local tooling.
type pipeTransport struct {
	in        chan []byte
	out       chan []byte
	closed    chan struct{}
	closeOnce *sync.Once
}

// NewPipe returns two connected in-process transports; frames sent on one
// side are received on the other. Closing either side closes both.
func NewPipe() (Transport, Transport) {
	a := make(chan []byte, 64)
	b := make(chan []byte, 64)
	closed := make(chan struct{})
	once := &sync.Once{}
	left := &pipeTransport{in: a, out: b, closed: closed, closeOnce: once}
	right := &pipeTransport{in: b, out: a, closed: closed, closeOnce: once}
	return left, right
}

func (t *pipeTransport) Send(ctx context.Context, data []byte) error {
	frame := make([]byte, len(data))
	copy(frame, data)
	select {
	case t.out <- frame:
		return nil
	case <-t.closed:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *pipeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-t.in:
		return data, nil
	case <-t.closed:
		// Drain frames already in flight before reporting closure.
		select {
		case data := <-t.in:
			return data, nil
		default:
			return nil, ErrTransportClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *pipeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}
