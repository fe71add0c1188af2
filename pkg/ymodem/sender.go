// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ymodem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/hisiflash/pkg/iox"
)

// ProgressFunc receives the cumulative number of bytes accepted by the peer
type ProgressFunc func(done, total int)

// Config tunes the sender
type Config struct {
	// ReadyTimeout bounds the wait for the peer's 'C'. It is long because
	// the peer may be erasing flash.
	ReadyTimeout time.Duration
	// AckTimeout bounds the wait for the response to one block
	AckTimeout time.Duration
	// FinishTimeout bounds the closing handshake
	FinishTimeout time.Duration
	// MaxRetries is the number of resends allowed per block
	MaxRetries int
	// PollInterval is slept after a read returns no data. Ports with a read
	// timeout can leave it at zero.
	PollInterval time.Duration
}

// DefaultConfig returns the default sender configuration
func DefaultConfig() Config {
	return Config{
		ReadyTimeout:  DefaultReadyTimeout,
		AckTimeout:    DefaultAckTimeout,
		FinishTimeout: DefaultFinishTimeout,
		MaxRetries:    DefaultMaxRetries,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = d.ReadyTimeout
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = d.AckTimeout
	}
	if c.FinishTimeout <= 0 {
		c.FinishTimeout = d.FinishTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	return c
}

// Sender drives one side of a YMODEM-1K session. rw must return from Read
// periodically, with (0, nil) when no data arrived.
type Sender struct {
	rw     io.ReadWriter
	cfg    Config
	logger *zap.Logger
	stats  *Statistics
	one    [1]byte
}

// NewSender creates a sender over rw
func NewSender(rw io.ReadWriter, cfg Config, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		rw:     rw,
		cfg:    cfg.withDefaults(),
		logger: logger,
		stats:  NewStatistics(),
	}
}

// Stats returns the transfer counters
func (s *Sender) Stats() *Statistics {
	return s.stats
}

// Send transfers one file and closes the session
func (s *Sender) Send(ctx context.Context, name string, data []byte, progress ProgressFunc) error {
	if err := s.WaitReady(ctx, s.cfg.ReadyTimeout); err != nil {
		return fmt.Errorf("waiting for receiver: %w", err)
	}
	if err := s.SendFileInfo(ctx, name, len(data)); err != nil {
		return err
	}
	if err := s.WaitReady(ctx, s.cfg.ReadyTimeout); err != nil {
		return fmt.Errorf("waiting for data request: %w", err)
	}
	if err := s.SendData(ctx, data, progress); err != nil {
		return err
	}
	ready, err := s.SendEOT(ctx)
	if err != nil {
		return err
	}

	if !ready {
		// The peer acked EOT; give it a moment to ask for the next file
		if err := s.WaitReady(ctx, s.cfg.FinishTimeout); err != nil {
			if iox.IsInterrupted(err) {
				return err
			}
			s.logger.Debug("no request after EOT", zap.Error(err))
		}
	}

	s.stats.Files++
	return s.Finish(ctx)
}

// WaitReady reads until the peer requests CRC mode
func (s *Sender) WaitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		b, err := s.readByte(ctx, deadline)
		if err != nil {
			return err
		}
		switch b {
		case CRC:
			return nil
		case CAN:
			return ErrCancelledByPeer
		}
	}
}

// SendFileInfo sends block 0 announcing name and size
func (s *Sender) SendFileInfo(ctx context.Context, name string, size int) error {
	block := BuildBlock(0, FileInfo(name, size), BlockSize128)
	if err := s.sendBlock(ctx, block, 0, s.cfg.MaxRetries); err != nil {
		return &BlockError{Block: 0, Err: err}
	}
	s.logger.Debug("file info accepted", zap.String("name", name), zap.Int("size", size))
	return nil
}

// SendData sends data as consecutive 1 KiB blocks numbered from 1
func (s *Sender) SendData(ctx context.Context, data []byte, progress ProgressFunc) error {
	total := len(data)
	if progress != nil {
		progress(0, total)
	}

	for index, offset := 1, 0; offset < total; index, offset = index+1, offset+BlockSize1K {
		end := offset + BlockSize1K
		if end > total {
			end = total
		}

		block := BuildBlock(byte(index), data[offset:end], BlockSize1K)
		if err := s.sendBlock(ctx, block, index, s.cfg.MaxRetries); err != nil {
			return &BlockError{Block: index, Err: err}
		}

		s.stats.Bytes += uint64(end - offset)
		if progress != nil {
			progress(end, total)
		}
	}
	return nil
}

// SendEOT ends the file. It reports true when the peer answered with a
// fresh 'C' instead of ACK.
func (s *Sender) SendEOT(ctx context.Context) (bool, error) {
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if err := iox.Checkpoint(ctx); err != nil {
			return false, err
		}
		if attempt > 0 {
			s.stats.Retries++
		}

		if err := s.write(ctx, []byte{EOT}); err != nil {
			return false, err
		}

		resp, err := s.awaitResponse(ctx, s.cfg.AckTimeout, true)
		switch {
		case err == nil:
		case errors.Is(err, ErrTimeout):
			s.stats.Timeouts++
			continue
		default:
			return false, err
		}

		switch resp {
		case ACK:
			return false, nil
		case CRC:
			return true, nil
		case NAK:
			s.stats.NAKs++
		case CAN:
			return false, ErrCancelledByPeer
		}
	}
	return false, fmt.Errorf("EOT: %w", ErrRetriesExhausted)
}

// Finish sends the empty block 0 that closes the session. Only cancellation
// is reported; any other failure is logged because the data has already
// been accepted.
func (s *Sender) Finish(ctx context.Context) error {
	block := BuildBlock(0, nil, BlockSize128)

	err := s.sendBlockWithTimeout(ctx, block, 0, 1, s.cfg.FinishTimeout)
	if err != nil {
		if iox.IsInterrupted(err) {
			return err
		}
		s.logger.Warn("session close not acknowledged", zap.Error(err))
	}
	return nil
}

func (s *Sender) sendBlock(ctx context.Context, block []byte, index, retries int) error {
	return s.sendBlockWithTimeout(ctx, block, index, retries, s.cfg.AckTimeout)
}

// sendBlockWithTimeout writes a whole block and waits for its response,
// resending it on NAK or timeout
func (s *Sender) sendBlockWithTimeout(ctx context.Context, block []byte, index, retries int, timeout time.Duration) error {
	for attempt := 0; attempt <= retries; attempt++ {
		if err := iox.Checkpoint(ctx); err != nil {
			return err
		}
		if attempt > 0 {
			s.stats.Retries++
			s.logger.Debug("resending block", zap.Int("block", index), zap.Int("attempt", attempt))
		}

		if err := s.write(ctx, block); err != nil {
			return err
		}

		resp, err := s.awaitResponse(ctx, timeout, false)
		if errors.Is(err, ErrTimeout) {
			s.stats.Timeouts++
			continue
		}
		if err != nil {
			return err
		}

		switch resp {
		case ACK:
			s.stats.Blocks++
			return nil
		case NAK:
			s.stats.NAKs++
		case CAN:
			return ErrCancelledByPeer
		}
	}
	return ErrRetriesExhausted
}

// awaitResponse reads until ACK, NAK or CAN arrives. With acceptReady set,
// a 'C' also ends the wait.
func (s *Sender) awaitResponse(ctx context.Context, timeout time.Duration, acceptReady bool) (byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		b, err := s.readByte(ctx, deadline)
		if err != nil {
			return 0, err
		}
		switch b {
		case ACK, NAK, CAN:
			return b, nil
		case CRC:
			if acceptReady {
				return b, nil
			}
		}
	}
}

// readByte reads a single byte so nothing after a response is consumed
func (s *Sender) readByte(ctx context.Context, deadline time.Time) (byte, error) {
	for {
		if err := iox.Checkpoint(ctx); err != nil {
			return 0, err
		}
		if !time.Now().Before(deadline) {
			return 0, ErrTimeout
		}

		n, err := s.rw.Read(s.one[:])
		if err != nil {
			return 0, err
		}
		if n == 1 {
			return s.one[0], nil
		}

		if s.cfg.PollInterval > 0 {
			if err := iox.Sleep(ctx, s.cfg.PollInterval); err != nil {
				return 0, err
			}
		}
	}
}

// write sends p in full
func (s *Sender) write(ctx context.Context, p []byte) error {
	for len(p) > 0 {
		if err := iox.Checkpoint(ctx); err != nil {
			return err
		}
		n, err := s.rw.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
