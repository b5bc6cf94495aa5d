// Package gpchosttest contains recording fakes of the [gpchost] collaborators.
//
// Every fake records calls under a mutex, for synchronous inspection,
// and also offers each call on a buffered channel,
// for tests that drive the server's background goroutine.
// Channel notifications are dropped if the buffer is full.
package gpchosttest

import (
	"context"
	"slices"
	"sync"

	"github.com/gordian-engine/gpc/gpchost"
	"github.com/gordian-engine/gpc/gpcmsg"
)

const notifyBufferSize = 128

// Sent is one message recorded by [Mesh].
type Sent struct {
	Ctx     gpchost.MsgCtx
	Op      gpcmsg.Opcode
	Payload []byte
}

// Decode decodes the recorded payload, panicking on error.
func (s Sent) Decode() gpcmsg.Message {
	m, err := gpcmsg.Decode(s.Op, s.Payload)
	if err != nil {
		panic(err)
	}
	return m
}

// Mesh is a fake [gpchost.Mesh].
type Mesh struct {
	SentCh chan Sent

	mu   sync.Mutex
	sent []Sent
	err  error
}

func NewMesh() *Mesh {
	return &Mesh{SentCh: make(chan Sent, notifyBufferSize)}
}

func (m *Mesh) Send(mctx gpchost.MsgCtx, op gpcmsg.Opcode, payload []byte) error {
	s := Sent{Ctx: mctx, Op: op, Payload: slices.Clone(payload)}

	m.mu.Lock()
	m.sent = append(m.sent, s)
	err := m.err
	m.mu.Unlock()

	select {
	case m.SentCh <- s:
	default:
	}

	return err
}

// SetErr sets the error returned from subsequent calls to Send.
func (m *Mesh) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Sent returns a copy of every recorded message.
func (m *Mesh) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sent)
}

// SentOp returns the recorded messages with the given opcode.
func (m *Mesh) SentOp(op gpcmsg.Opcode) []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Sent
	for _, s := range m.sent {
		if s.Op == op {
			out = append(out, s)
		}
	}
	return out
}

// ConnectCall is one recorded call to [*Transport.Connect].
type ConnectCall struct {
	Addr   uint16
	NetIdx uint8
}

// Transport is a fake [gpchost.Transport] that also implements [gpchost.LinkLister].
// It never emits link changes by itself;
// tests deliver them to the server explicitly.
type Transport struct {
	ConnectCh    chan ConnectCall
	DisconnectCh chan gpchost.ConnHandle

	mu          sync.Mutex
	connects    []ConnectCall
	disconnects []gpchost.ConnHandle
	connectErr  error
	existing    []gpchost.LinkChange
}

func NewTransport() *Transport {
	return &Transport{
		ConnectCh:    make(chan ConnectCall, notifyBufferSize),
		DisconnectCh: make(chan gpchost.ConnHandle, notifyBufferSize),
	}
}

func (t *Transport) Connect(addr uint16, netIdx uint8) error {
	c := ConnectCall{Addr: addr, NetIdx: netIdx}

	t.mu.Lock()
	t.connects = append(t.connects, c)
	err := t.connectErr
	t.mu.Unlock()

	select {
	case t.ConnectCh <- c:
	default:
	}

	return err
}

func (t *Transport) Disconnect(h gpchost.ConnHandle) error {
	t.mu.Lock()
	t.disconnects = append(t.disconnects, h)
	t.mu.Unlock()

	select {
	case t.DisconnectCh <- h:
	default:
	}

	return nil
}

// Links reports the links set through SetExisting.
func (t *Transport) Links() []gpchost.LinkChange {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.existing)
}

// SetExisting sets the links reported by Links,
// simulating connections that outlived a server restart.
func (t *Transport) SetExisting(links []gpchost.LinkChange) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.existing = slices.Clone(links)
}

// SetConnectErr sets the error returned from subsequent calls to Connect.
func (t *Transport) SetConnectErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErr = err
}

func (t *Transport) Connects() []ConnectCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.connects)
}

func (t *Transport) Disconnects() []gpchost.ConnHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.disconnects)
}

// AdvCall is one recorded call to [*Advertiser.SetAdvertising].
type AdvCall struct {
	Mode   gpcmsg.AdvMode
	NetIdx uint8
}

// Advertiser is a fake [gpchost.Advertiser].
type Advertiser struct {
	CallCh chan AdvCall

	mu    sync.Mutex
	calls []AdvCall
}

func NewAdvertiser() *Advertiser {
	return &Advertiser{CallCh: make(chan AdvCall, notifyBufferSize)}
}

func (a *Advertiser) SetAdvertising(mode gpcmsg.AdvMode, netIdx uint8) error {
	c := AdvCall{Mode: mode, NetIdx: netIdx}

	a.mu.Lock()
	a.calls = append(a.calls, c)
	a.mu.Unlock()

	select {
	case a.CallCh <- c:
	default:
	}

	return nil
}

func (a *Advertiser) Calls() []AdvCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.calls)
}

// Last returns the most recent call, or false if there were none.
func (a *Advertiser) Last() (AdvCall, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.calls) == 0 {
		return AdvCall{}, false
	}
	return a.calls[len(a.calls)-1], true
}

// Storage is an in-memory [gpchost.Storage].
type Storage struct {
	SaveCh chan []byte

	mu    sync.Mutex
	blob  []byte
	saves int
	err   error
}

func NewStorage() *Storage {
	return &Storage{SaveCh: make(chan []byte, notifyBufferSize)}
}

func (s *Storage) Load(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.blob), nil
}

func (s *Storage) Save(_ context.Context, blob []byte) error {
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return err
	}
	s.blob = slices.Clone(blob)
	s.saves++
	s.mu.Unlock()

	select {
	case s.SaveCh <- slices.Clone(blob):
	default:
	}

	return nil
}

// SetErr makes subsequent saves fail with err.
func (s *Storage) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Blob returns the last saved blob.
func (s *Storage) Blob() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.blob)
}

// Saves returns the number of successful saves.
func (s *Storage) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Indicator is a fake [gpchost.Indicator].
type Indicator struct {
	mu     sync.Mutex
	states []bool
}

func (i *Indicator) SetIndicator(on bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.states = append(i.states, on)
}

// States returns every value passed to SetIndicator, in order.
func (i *Indicator) States() []bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return slices.Clone(i.states)
}
