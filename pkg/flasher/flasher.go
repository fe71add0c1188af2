// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package flasher drives a HiSilicon boot ROM: it performs the handshake,
// boots the first-stage loader and downloads partitions over YMODEM, with
// retries and port recovery when the USB adapter re-enumerates.
package flasher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/hisiflash/pkg/chip"
	"github.com/Thermoquad/hisiflash/pkg/fwpkg"
	"github.com/Thermoquad/hisiflash/pkg/iox"
	"github.com/Thermoquad/hisiflash/pkg/port"
	"github.com/Thermoquad/hisiflash/pkg/seboot"
	"github.com/Thermoquad/hisiflash/pkg/ymodem"
)

// ProgressFunc receives transfer progress per partition. done never
// decreases within a partition and reaches total when it completes.
type ProgressFunc func(partition string, done, total int)

// Binary is a raw image written at a fixed flash address
type Binary struct {
	Name    string
	Address uint32
	Data    []byte
}

// Flasher is the capability set shared by chip families
type Flasher interface {
	Connect(ctx context.Context) error
	Flash(ctx context.Context, fw *fwpkg.Fwpkg, filter []string, progress ProgressFunc) error
	WriteBins(ctx context.Context, loader []byte, bins []Binary, progress ProgressFunc) error
	EraseAll(ctx context.Context) error
	Reset(ctx context.Context) error
	Close() error
}

// Defaults not covered by the chip family
const (
	DefaultRetries      = 3
	DefaultMagicTimeout = 30 * time.Second
	DefaultBaudSettle   = 50 * time.Millisecond
	LoaderName          = "loaderboot"
)

// SebootFlasher implements Flasher over the SEBOOT protocol
type SebootFlasher struct {
	port        port.Port
	family      chip.Family
	targetBaud  int
	timing      HandshakeTiming
	transfer    ymodem.Config
	reconnector PortReconnector
	retries     int
	backoff     Backoff
	logger      *zap.Logger

	magicTimeout   time.Duration
	partitionDelay *time.Duration
	eraseSettle    *time.Duration
	baudSettle     time.Duration

	stats     *ymodem.Statistics
	connected bool
	loader    bool
	// lineBaud is the rate the loader was switched to, zero before a switch
	lineBaud int
}

var _ Flasher = (*SebootFlasher)(nil)

// New creates a flasher that owns p
func New(p port.Port, opts ...Option) *SebootFlasher {
	family, _ := chip.Lookup(chip.Default)
	f := &SebootFlasher{
		port:         p,
		family:       family,
		timing:       DefaultHandshakeTiming(),
		transfer:     ymodem.DefaultConfig(),
		retries:      DefaultRetries,
		backoff:      DefaultBackoff(),
		logger:       zap.NewNop(),
		magicTimeout: DefaultMagicTimeout,
		baudSettle:   DefaultBaudSettle,
		stats:        ymodem.NewStatistics(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Port returns the current port, which changes after a reconnect
func (f *SebootFlasher) Port() port.Port {
	return f.port
}

// Stats returns the transfer counters accumulated over all transfers
func (f *SebootFlasher) Stats() *ymodem.Statistics {
	return f.stats
}

// Connect performs the boot ROM handshake
func (f *SebootFlasher) Connect(ctx context.Context) error {
	if err := f.timing.Validate(); err != nil {
		return &StageError{Stage: StageHandshake, Err: err}
	}

	hs := NewHandshakeController(f.port, uint32(f.targetRate()), f.timing, f.logger.Named("handshake"))
	hs.SetReconnector(f.reconnector)
	hs.SetBackoff(f.backoff)

	err := hs.Connect(ctx)
	f.port = hs.Port()
	if err != nil {
		return &StageError{Stage: StageHandshake, Err: err}
	}
	f.connected = true
	f.loader = false
	f.lineBaud = 0
	return nil
}

// targetRate is the baud rate the loader runs at, zero when unknown
func (f *SebootFlasher) targetRate() int {
	if f.targetBaud != 0 {
		return f.targetBaud
	}
	return f.family.TargetBaud
}

// Flash boots the loader from the package and downloads the other
// partitions in package order. A non-empty filter restricts the download
// to the named partitions; the loader is always sent.
func (f *SebootFlasher) Flash(ctx context.Context, fw *fwpkg.Fwpkg, filter []string, progress ProgressFunc) error {
	if !f.connected {
		return ErrNotConnected
	}

	entry, ok := fw.Loader()
	if !ok {
		return &StageError{Stage: StageLoader, Err: fmt.Errorf("%w: package has no loader partition", fwpkg.ErrInvalidFormat)}
	}
	loader, err := fw.Payload(entry)
	if err != nil {
		return &StageError{Stage: StageLoader, Partition: entry.Name, Err: err}
	}

	parts, err := selectPartitions(fw, filter)
	if err != nil {
		return err
	}
	bins := make([]Binary, 0, len(parts))
	for _, p := range parts {
		data, err := fw.Payload(p)
		if err != nil {
			return &StageError{Stage: StagePartition, Index: len(bins) + 1, Partition: p.Name, Err: err}
		}
		bins = append(bins, Binary{Name: p.Name, Address: p.BurnAddress, Data: data})
	}

	f.logger.Info("Flashing package",
		zap.String("package", fw.Header().PackageName),
		zap.Stringer("format", fw.Version()),
		zap.Int("partitions", len(bins)))

	if err := f.bootLoader(ctx, entry.Name, loader, progress); err != nil {
		return err
	}
	return f.download(ctx, bins, progress)
}

// WriteBins boots loader and writes each binary at its address
func (f *SebootFlasher) WriteBins(ctx context.Context, loader []byte, bins []Binary, progress ProgressFunc) error {
	if !f.connected {
		return ErrNotConnected
	}
	if len(loader) == 0 {
		return &StageError{Stage: StageLoader, Err: errors.New("empty loader image")}
	}
	if err := f.bootLoader(ctx, LoaderName, loader, progress); err != nil {
		return err
	}
	return f.download(ctx, bins, progress)
}

// BootLoader sends the loader image and switches baud rate. It is the
// first step of Flash and WriteBins, exposed for callers that only need
// the loader running, such as a bare erase.
func (f *SebootFlasher) BootLoader(ctx context.Context, loader []byte, progress ProgressFunc) error {
	if !f.connected {
		return ErrNotConnected
	}
	return f.bootLoader(ctx, LoaderName, loader, progress)
}

func (f *SebootFlasher) bootLoader(ctx context.Context, name string, data []byte, progress ProgressFunc) error {
	f.logger.Info("Sending loader", zap.String("name", name), zap.Int("size", len(data)))

	err := f.withRetry(ctx, StageLoader, 0, name, func() error {
		// The ROM starts receiving right after the handshake ACK
		if err := f.send(ctx, name, data, progress); err != nil {
			return err
		}
		return f.waitMagic(ctx, f.magicTimeout)
	})
	if err != nil {
		return err
	}
	f.loader = true

	if err := f.switchBaud(ctx); err != nil {
		return &StageError{Stage: StageBaud, Err: err}
	}
	return nil
}

func (f *SebootFlasher) download(ctx context.Context, bins []Binary, progress ProgressFunc) error {
	delay := f.family.PartitionDelay
	if f.partitionDelay != nil {
		delay = *f.partitionDelay
	}

	for i, b := range bins {
		index := i + 1
		f.logger.Info("Downloading partition",
			zap.Int("index", index),
			zap.String("name", b.Name),
			zap.String("address", fmt.Sprintf("0x%08x", b.Address)),
			zap.Int("size", len(b.Data)))

		err := f.withRetry(ctx, StagePartition, index, b.Name, func() error {
			if err := f.writeFrame(seboot.DownloadImage(b.Address, uint32(len(b.Data)))); err != nil {
				return err
			}
			if err := f.waitMagic(ctx, f.magicTimeout); err != nil {
				return err
			}
			return f.send(ctx, b.Name, b.Data, progress)
		})
		if err != nil {
			return err
		}

		if i == len(bins)-1 {
			break
		}
		if err := iox.Sleep(ctx, delay); err != nil {
			return &StageError{Stage: StagePartition, Index: index, Partition: b.Name, Err: err}
		}
	}

	f.logger.Info("Download complete", zap.Int("partitions", len(bins)))
	return nil
}

// EraseAll erases the whole flash. The loader gives no completion signal
// so the call waits for the chip's erase settle time.
func (f *SebootFlasher) EraseAll(ctx context.Context) error {
	if !f.loader {
		return &StageError{Stage: StageErase, Err: ErrLoaderNotRunning}
	}

	settle := f.family.EraseSettle
	if f.eraseSettle != nil {
		settle = *f.eraseSettle
	}

	f.logger.Info("Erasing flash", zap.Duration("settle", settle))
	if err := f.writeFrame(seboot.EraseAll()); err != nil {
		return &StageError{Stage: StageErase, Err: err}
	}
	if err := iox.Sleep(ctx, settle); err != nil {
		return &StageError{Stage: StageErase, Err: err}
	}
	if err := f.port.ClearBuffers(); err != nil {
		return &StageError{Stage: StageErase, Err: err}
	}
	return nil
}

// Reset restarts the device. The loader does not answer.
func (f *SebootFlasher) Reset(ctx context.Context) error {
	if err := iox.Checkpoint(ctx); err != nil {
		return &StageError{Stage: StageReset, Err: err}
	}
	if err := f.writeFrame(seboot.Reset()); err != nil {
		return &StageError{Stage: StageReset, Err: err}
	}
	f.logger.Info("Device reset")
	f.connected = false
	f.loader = false
	f.lineBaud = 0
	return nil
}

// Close releases the port
func (f *SebootFlasher) Close() error {
	f.connected = false
	f.loader = false
	return f.port.Close()
}

// withRetry runs fn until it succeeds, retrying recoverable failures with
// a delay that depends on the error class. A disconnect reopens the port
// first.
func (f *SebootFlasher) withRetry(ctx context.Context, stage Stage, index int, name string, fn func() error) error {
	wrap := func(err error) error {
		return &StageError{Stage: stage, Index: index, Partition: name, Err: err}
	}

	var lastErr error
	for attempt := 0; attempt <= f.retries; attempt++ {
		if err := iox.Checkpoint(ctx); err != nil {
			return wrap(err)
		}
		if attempt > 0 {
			f.logger.Warn("Retrying",
				zap.String("stage", string(stage)),
				zap.String("partition", name),
				zap.Int("attempt", attempt),
				zap.Int("retries", f.retries),
				zap.Error(lastErr))
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRecoverable(err) || attempt == f.retries {
			break
		}

		if port.IsDisconnect(err) {
			if f.reconnector == nil {
				break
			}
			p, rerr := f.reconnector.Reconnect(ctx, f.port)
			if rerr != nil {
				lastErr = rerr
				break
			}
			f.port = p

			// The reopened port starts at the boot ROM rate
			if f.loader && f.lineBaud != 0 {
				if berr := p.SetBaudRate(f.lineBaud); berr != nil {
					lastErr = berr
					break
				}
			}
		}

		if err := iox.Sleep(ctx, f.backoff.Delay(err)); err != nil {
			return wrap(err)
		}
	}
	return wrap(lastErr)
}

// send transfers one image over YMODEM
func (f *SebootFlasher) send(ctx context.Context, name string, data []byte, progress ProgressFunc) error {
	var pf ymodem.ProgressFunc
	if progress != nil {
		pf = func(done, total int) {
			progress(name, done, total)
		}
	}
	s := ymodem.NewSender(f.port, f.transfer, f.logger.Named("ymodem"))
	err := s.Send(ctx, name, data, pf)
	f.stats.Add(s.Stats())
	return err
}

func (f *SebootFlasher) writeFrame(frame []byte) error {
	if err := writeAll(f.port, frame); err != nil {
		return err
	}
	return f.port.Flush()
}

// waitMagic reads until an ACK frame arrives. Other frames are logged and
// skipped. Input is consumed one byte at a time so nothing after the frame
// is lost to the next stage.
func (f *SebootFlasher) waitMagic(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var pending []byte
	var one [1]byte

	for {
		if err := iox.Checkpoint(ctx); err != nil {
			return err
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: no acknowledgement from loader after %s", ErrTimeout, timeout)
		}

		n, err := f.port.Read(one[:])
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		pending = append(pending, one[0])

		frame, rest := seboot.DecodeNext(pending)
		pending = rest
		if frame == nil {
			continue
		}
		if !frame.IsAck() {
			f.logger.Debug("Ignoring frame while waiting for acknowledgement", zap.Stringer("command", frame.Command))
			continue
		}
		return frame.Err()
	}
}

// switchBaud moves both ends to the target rate
func (f *SebootFlasher) switchBaud(ctx context.Context) error {
	target := f.targetRate()
	current := f.port.BaudRate()
	if target == 0 || target == current {
		return nil
	}
	if !f.family.BaudSwitch {
		return fmt.Errorf("%w: %s cannot change baud rate", ErrUnsupported, f.family.Name)
	}

	f.logger.Info("Switching baud rate", zap.Int("from", current), zap.Int("to", target))
	if err := f.writeFrame(seboot.SetBaudRate(uint32(target))); err != nil {
		return err
	}
	// The loader acknowledges at the old rate; some builds stay silent
	if err := f.waitMagic(ctx, time.Second); err != nil {
		if !errors.Is(err, ErrTimeout) {
			return err
		}
		f.logger.Debug("No acknowledgement for baud rate change")
	}

	if err := iox.Sleep(ctx, f.baudSettle); err != nil {
		return err
	}
	if err := f.port.SetBaudRate(target); err != nil {
		return err
	}
	f.lineBaud = target
	if err := f.port.ClearBuffers(); err != nil {
		return err
	}
	return iox.Sleep(ctx, f.baudSettle)
}

// selectPartitions returns the non-loader partitions, optionally filtered
func selectPartitions(fw *fwpkg.Fwpkg, filter []string) ([]*fwpkg.PartitionEntry, error) {
	all := fw.NormalPartitions()
	if len(filter) == 0 {
		return all, nil
	}

	want := make(map[string]bool, len(filter))
	for _, name := range filter {
		want[name] = true
	}
	var out []*fwpkg.PartitionEntry
	for _, p := range all {
		if want[p.Name] {
			out = append(out, p)
			delete(want, p.Name)
		}
	}
	for name := range want {
		if e, ok := fw.Partition(name); ok && e.IsLoader() {
			continue
		}
		return nil, fmt.Errorf("partition %q not found in package", name)
	}
	return out, nil
}
