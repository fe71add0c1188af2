// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package devsim simulates a HiSilicon boot ROM and its YMODEM receiver
// behind the port.Port interface, for exercising the flasher without
// hardware.
package devsim

import (
	"sync"
	"time"

	"github.com/Thermoquad/hisiflash/pkg/port"
)

// Peer is the device side of a Stream
type Peer interface {
	// Receive handles bytes written by the host and returns the reply
	Receive(p []byte) []byte
	// Idle returns bytes the device emits when the line is quiet
	Idle() []byte
}

// Stream adapts a Peer to port.Port. Replies are produced synchronously
// inside Write; reads with nothing queued wait for the read timeout and
// then ask the peer for idle output.
type Stream struct {
	mu          sync.Mutex
	peer        Peer
	name        string
	out         []byte
	readTimeout time.Duration
	baud        int
	closed      bool
	readErr     error
	writeErr    error

	Writes   int
	DTR, RTS bool
}

// NewStream wraps peer
func NewStream(name string, peer Peer) *Stream {
	return &Stream{
		peer:        peer,
		name:        name,
		readTimeout: time.Millisecond,
		baud:        port.DefaultBaudRate,
	}
}

var _ port.Port = (*Stream)(nil)

// FailReads makes every subsequent Read return err
func (s *Stream) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// FailWrites makes every subsequent Write return err
func (s *Stream) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// Inject queues bytes as if the device had sent them
func (s *Stream) Inject(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, p...)
}

func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, port.ErrClosed
	}
	if s.readErr != nil {
		err := s.readErr
		s.mu.Unlock()
		return 0, err
	}
	if len(s.out) > 0 {
		n := copy(p, s.out)
		s.out = s.out[n:]
		s.mu.Unlock()
		return n, nil
	}
	timeout := s.readTimeout
	s.mu.Unlock()

	time.Sleep(timeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.out) == 0 {
		s.out = append(s.out, s.peer.Idle()...)
	}
	n := copy(p, s.out)
	s.out = s.out[n:]
	return n, nil
}

func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, port.ErrClosed
	}
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.Writes++
	s.out = append(s.out, s.peer.Receive(append([]byte(nil), p...))...)
	return len(p), nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) Name() string { return s.name }

func (s *Stream) SetReadTimeout(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readTimeout = d
	return nil
}

func (s *Stream) BaudRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baud
}

func (s *Stream) SetBaudRate(baud int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baud = baud
	return nil
}

func (s *Stream) SetDTR(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DTR = on
	return nil
}

func (s *Stream) SetRTS(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RTS = on
	return nil
}

func (s *Stream) CTS() (bool, error) { return false, nil }
func (s *Stream) DSR() (bool, error) { return false, nil }
func (s *Stream) Flush() error       { return nil }

func (s *Stream) ClearBuffers() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = nil
	return nil
}

// ReceiverPeer exposes a bare Receiver as a Peer
type ReceiverPeer struct {
	*Receiver
}

// Receive implements Peer
func (r ReceiverPeer) Receive(p []byte) []byte {
	return r.Feed(p)
}
