package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
)

// fakeConn is an in-memory socket. Frames queued with push are returned by
// ReadJSON; everything written is recorded.
type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []Envelope
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) push(event string, data interface{}) {
	env, err := NewEnvelope(event, data)
	if err != nil {
		panic(err)
	}
	raw, _ := json.Marshal(env)
	c.in <- raw
}

func (c *fakeConn) pushRaw(raw string) {
	c.in <- []byte(raw)
}

// drop simulates the server going away.
func (c *fakeConn) drop() {
	c.once.Do(func() { close(c.closed) })
}

func (c *fakeConn) ReadJSON(v interface{}) error {
	select {
	case raw := <-c.in:
		return json.Unmarshal(raw, v)
	case <-c.closed:
		return errors.New("connection closed")
	}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, v.(Envelope))
	return nil
}

func (c *fakeConn) Close() error {
	c.drop()
	return nil
}

func (c *fakeConn) sent(event string) []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Envelope
	for _, env := range c.written {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

// fakeDialer hands out the queued connections in order, or errors when it
// runs out.
type fakeDialer struct {
	mu     sync.Mutex
	conns  []*fakeConn
	dials  int
	urls   []string
	header http.Header
}

func (d *fakeDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.urls = append(d.urls, rawURL)
	d.header = header
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
