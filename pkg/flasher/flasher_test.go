// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flasher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/hisiflash/pkg/chip"
	"github.com/Thermoquad/hisiflash/pkg/devsim"
	"github.com/Thermoquad/hisiflash/pkg/fwpkg"
	"github.com/Thermoquad/hisiflash/pkg/iox"
	"github.com/Thermoquad/hisiflash/pkg/port"
	"github.com/Thermoquad/hisiflash/pkg/seboot"
	"github.com/Thermoquad/hisiflash/pkg/ymodem"
)

// ============================================================
// Test Helpers
// ============================================================

func fastTiming() HandshakeTiming {
	return HandshakeTiming{
		StartupWindow:     50 * time.Millisecond,
		StartupInterval:   time.Millisecond,
		HeartbeatInterval: 2 * time.Millisecond,
		HeartbeatWindow:   20 * time.Millisecond,
		NormalInterval:    5 * time.Millisecond,
		AppModeThreshold:  64,
		AppModeInterval:   10 * time.Millisecond,
		AppModeQuiet:      2 * time.Millisecond,
		AppModeGrace:      10 * time.Millisecond,
		ReadTimeout:       time.Millisecond,
		Timeout:           500 * time.Millisecond,
		Attempts:          2,
	}
}

func fastTransfer() ymodem.Config {
	return ymodem.Config{
		ReadyTimeout:  500 * time.Millisecond,
		AckTimeout:    100 * time.Millisecond,
		FinishTimeout: 100 * time.Millisecond,
		MaxRetries:    3,
	}
}

func testOptions(extra ...Option) []Option {
	opts := []Option{
		WithHandshakeTiming(fastTiming()),
		WithTransferConfig(fastTransfer()),
		WithBackoff(Backoff{}),
		WithMagicTimeout(500 * time.Millisecond),
		WithPartitionDelay(0),
		WithEraseSettle(time.Millisecond),
		WithBaudSettle(0),
		WithTargetBaud(port.DefaultBaudRate),
	}
	return append(opts, extra...)
}

func pattern(n int, seed byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7) + seed
	}
	return data
}

var (
	loaderImage = []byte("LOADER!!")
	appImage    = pattern(16, 0x40)
)

func buildPackage(t *testing.T, v fwpkg.Version, images ...fwpkg.Image) *fwpkg.Fwpkg {
	t.Helper()
	b := fwpkg.NewBuilder(v)
	for _, img := range images {
		b.Add(img)
	}
	raw, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	fw, err := fwpkg.Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return fw
}

func standardPackage(t *testing.T) *fwpkg.Fwpkg {
	return buildPackage(t, fwpkg.V1,
		fwpkg.Image{Name: "loader", Type: fwpkg.TypeLoader, Data: loaderImage},
		fwpkg.Image{Name: "app", Type: fwpkg.TypeNormal, BurnAddress: 0x230000, Data: appImage},
	)
}

type progressEvent struct {
	name        string
	done, total int
}

type progressRecorder struct {
	mu     sync.Mutex
	events []progressEvent
}

func (r *progressRecorder) record(name string, done, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, progressEvent{name, done, total})
}

// order returns partition names in first-seen order
func (r *progressRecorder) order() []string {
	var names []string
	seen := map[string]bool{}
	for _, e := range r.events {
		if !seen[e.name] {
			seen[e.name] = true
			names = append(names, e.name)
		}
	}
	return names
}

func connected(t *testing.T, dev *devsim.Device, opts ...Option) (*SebootFlasher, *devsim.Stream) {
	t.Helper()
	s := devsim.NewStream("/dev/ttyUSB0", dev)
	f := New(s, testOptions(opts...)...)
	if err := f.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return f, s
}

// ============================================================
// Flash Tests
// ============================================================

func TestFlash_LoaderThenPartitions(t *testing.T) {
	dev := devsim.NewDevice()
	f, _ := connected(t, dev)
	fw := standardPackage(t)

	var rec progressRecorder
	if err := f.Flash(context.Background(), fw, nil, rec.record); err != nil {
		t.Fatalf("Flash() error = %v", err)
	}

	if len(dev.Files) != 2 {
		t.Fatalf("device received %d files, want 2", len(dev.Files))
	}
	if dev.Files[0].Name != "loader" || !bytes.Equal(dev.Files[0].Data, loaderImage) {
		t.Errorf("first file = %q %q, want loader", dev.Files[0].Name, dev.Files[0].Data)
	}
	if dev.Files[1].Name != "app" || !bytes.Equal(dev.Files[1].Data, appImage) {
		t.Errorf("second file = %q, want app with its payload", dev.Files[1].Name)
	}

	if len(dev.Downloads) != 1 {
		t.Fatalf("downloads = %d, want 1", len(dev.Downloads))
	}
	want := devsim.Download{Address: 0x230000, Length: 16, Erase: 0x1000}
	if dev.Downloads[0] != want {
		t.Errorf("download = %+v, want %+v", dev.Downloads[0], want)
	}

	if order := rec.order(); len(order) != 2 || order[0] != "loader" || order[1] != "app" {
		t.Errorf("progress order = %v, want [loader app]", order)
	}
	last := map[string]int{}
	for _, e := range rec.events {
		if e.done < last[e.name] {
			t.Errorf("%s progress went backwards: %d after %d", e.name, e.done, last[e.name])
		}
		last[e.name] = e.done
	}
	if last["loader"] != len(loaderImage) || last["app"] != len(appImage) {
		t.Errorf("final progress = %v, want loader=%d app=%d", last, len(loaderImage), len(appImage))
	}

	stats := f.Stats()
	if stats.Files != 2 {
		t.Errorf("stats files = %d, want 2", stats.Files)
	}
}

func TestFlash_PartitionOrderAndFilter(t *testing.T) {
	fw := buildPackage(t, fwpkg.V2,
		fwpkg.Image{Name: "loader", Type: fwpkg.TypeLoader, Data: loaderImage},
		fwpkg.Image{Name: "nv", Type: fwpkg.TypeKvNv, BurnAddress: 0x5FC000, Data: pattern(40, 1)},
		fwpkg.Image{Name: "app", Type: fwpkg.TypeNormal, BurnAddress: 0x230000, Data: pattern(2000, 2)},
		fwpkg.Image{Name: "boot", Type: fwpkg.TypeFlashBoot, BurnAddress: 0x200000, Data: pattern(300, 3)},
	)

	t.Run("all in package order", func(t *testing.T) {
		dev := devsim.NewDevice()
		f, _ := connected(t, dev)
		if err := f.Flash(context.Background(), fw, nil, nil); err != nil {
			t.Fatalf("Flash() error = %v", err)
		}
		var got []string
		for _, file := range dev.Files {
			got = append(got, file.Name)
		}
		if fmt.Sprint(got) != "[loader nv app boot]" {
			t.Errorf("files = %v, want [loader nv app boot]", got)
		}
		if dev.Downloads[1].Erase != 0x1000 || dev.Downloads[1].Length != 2000 {
			t.Errorf("app download = %+v", dev.Downloads[1])
		}
	})

	t.Run("filter keeps loader", func(t *testing.T) {
		dev := devsim.NewDevice()
		f, _ := connected(t, dev)
		if err := f.Flash(context.Background(), fw, []string{"boot", "loader"}, nil); err != nil {
			t.Fatalf("Flash() error = %v", err)
		}
		if len(dev.Files) != 2 || dev.Files[0].Name != "loader" || dev.Files[1].Name != "boot" {
			t.Errorf("files = %+v, want loader then boot", dev.Files)
		}
	})

	t.Run("unknown partition", func(t *testing.T) {
		dev := devsim.NewDevice()
		f, s := connected(t, dev)
		writes := s.Writes
		err := f.Flash(context.Background(), fw, []string{"missing"}, nil)
		if err == nil {
			t.Fatal("Flash() succeeded with an unknown partition")
		}
		if s.Writes != writes {
			t.Error("bytes were sent before the filter was checked")
		}
	})
}

func TestFlash_NoLoader(t *testing.T) {
	fw := buildPackage(t, fwpkg.V1,
		fwpkg.Image{Name: "app", Type: fwpkg.TypeNormal, BurnAddress: 0x230000, Data: appImage},
	)
	dev := devsim.NewDevice()
	f, _ := connected(t, dev)

	err := f.Flash(context.Background(), fw, nil, nil)
	if !errors.Is(err, fwpkg.ErrInvalidFormat) {
		t.Fatalf("Flash() error = %v, want ErrInvalidFormat", err)
	}
	if len(dev.Files) != 0 {
		t.Errorf("device received %d files", len(dev.Files))
	}
}

func TestFlash_NotConnected(t *testing.T) {
	s := devsim.NewStream("sim", devsim.NewDevice())
	f := New(s, testOptions()...)
	if err := f.Flash(context.Background(), standardPackage(t), nil, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Flash() error = %v, want ErrNotConnected", err)
	}
}

func TestFlash_RejectedDownload(t *testing.T) {
	dev := devsim.NewDevice()
	dev.RejectDownloads = true
	f, _ := connected(t, dev, WithRetries(2))

	err := f.Flash(context.Background(), standardPackage(t), nil, nil)
	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("Flash() error = %v, want StageError", err)
	}
	if se.Stage != StagePartition || se.Index != 1 || se.Partition != "app" {
		t.Errorf("stage error = %+v", se)
	}
	var perr *seboot.ProtocolError
	if !errors.As(err, &perr) {
		t.Errorf("error %v does not wrap a ProtocolError", err)
	}
	if len(dev.Downloads) != 3 {
		t.Errorf("download commands = %d, want 3 (1 + 2 retries)", len(dev.Downloads))
	}
}

func TestFlash_BlockRetries(t *testing.T) {
	dev := devsim.NewDevice()
	dev.NewReceiver = func(index int) *devsim.Receiver {
		r := devsim.NewReceiver()
		if index == 1 {
			r.NakBlocks[1] = 2
		}
		return r
	}
	f, _ := connected(t, dev)

	if err := f.Flash(context.Background(), standardPackage(t), nil, nil); err != nil {
		t.Fatalf("Flash() error = %v", err)
	}
	if f.Stats().NAKs != 2 {
		t.Errorf("NAKs = %d, want 2", f.Stats().NAKs)
	}
	if !bytes.Equal(dev.Files[1].Data, appImage) {
		t.Error("app payload corrupted")
	}
}

func TestFlash_PeerCancelNotRetried(t *testing.T) {
	dev := devsim.NewDevice()
	dev.NewReceiver = func(index int) *devsim.Receiver {
		r := devsim.NewReceiver()
		if index == 1 {
			r.CancelAtBlock = 1
		}
		return r
	}
	f, _ := connected(t, dev, WithRetries(3))

	err := f.Flash(context.Background(), standardPackage(t), nil, nil)
	if !errors.Is(err, ymodem.ErrCancelledByPeer) {
		t.Fatalf("Flash() error = %v, want ErrCancelledByPeer", err)
	}
	if len(dev.Downloads) != 1 {
		t.Errorf("download commands = %d, want 1", len(dev.Downloads))
	}
}

// ============================================================
// Baud Switch Tests
// ============================================================

func TestFlash_BaudSwitch(t *testing.T) {
	dev := devsim.NewDevice()
	f, s := connected(t, dev, WithTargetBaud(921600))

	if err := f.Flash(context.Background(), standardPackage(t), nil, nil); err != nil {
		t.Fatalf("Flash() error = %v", err)
	}
	if len(dev.BaudChanges) != 1 || dev.BaudChanges[0] != 921600 {
		t.Errorf("baud changes = %v, want [921600]", dev.BaudChanges)
	}
	if s.BaudRate() != 921600 {
		t.Errorf("port baud = %d, want 921600", s.BaudRate())
	}
}

func TestConnect_HandshakeAdvertisesTargetBaud(t *testing.T) {
	tests := []struct {
		name   string
		opts   []Option
		want   uint32
		family string
	}{
		{"explicit target", []Option{WithTargetBaud(921600)}, 921600, "ws63"},
		{"family target", []Option{WithTargetBaud(0)}, 921600, "ws63"},
		{"no switch", []Option{WithTargetBaud(0)}, 115200, "bs25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			family, err := chip.Lookup(tt.family)
			if err != nil {
				t.Fatal(err)
			}
			dev := devsim.NewDevice()
			dev.ProbesBeforeAck = 2
			_, s := connected(t, dev, append([]Option{WithChip(family)}, tt.opts...)...)

			if len(dev.HandshakeBauds) != dev.Probes || len(dev.HandshakeBauds) < 3 {
				t.Fatalf("handshake bauds = %v for %d probes", dev.HandshakeBauds, dev.Probes)
			}
			for i, b := range dev.HandshakeBauds {
				if b != tt.want {
					t.Errorf("handshake %d baud = %d, want %d", i, b, tt.want)
				}
			}
			if s.BaudRate() != port.DefaultBaudRate {
				t.Errorf("port baud = %d, want boot ROM rate %d", s.BaudRate(), port.DefaultBaudRate)
			}
		})
	}
}

func TestFlash_BaudSwitchUnsupported(t *testing.T) {
	family, err := chip.Lookup("bs25")
	if err != nil {
		t.Fatal(err)
	}
	dev := devsim.NewDevice()
	f, _ := connected(t, dev, WithChip(family), WithTargetBaud(921600))

	err = f.Flash(context.Background(), standardPackage(t), nil, nil)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Flash() error = %v, want ErrUnsupported", err)
	}
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageBaud {
		t.Errorf("error = %v, want baud stage", err)
	}
}

// ============================================================
// Reconnect Tests
// ============================================================

// dropOnDownload reports a disconnect for the first Download frame
type dropOnDownload struct {
	*devsim.Stream
	dropped bool
}

func (d *dropOnDownload) Write(p []byte) (int, error) {
	if f := seboot.Decode(p); !d.dropped && f != nil && f.Command == seboot.CmdDownload {
		d.dropped = true
		return 0, port.ErrDisconnected
	}
	return d.Stream.Write(p)
}

func TestFlash_DisconnectReconnects(t *testing.T) {
	dev := devsim.NewDevice()
	stale := &dropOnDownload{Stream: devsim.NewStream("/dev/ttyUSB0", dev)}
	fresh := devsim.NewStream("/dev/ttyUSB1", dev)
	rc := &countingReconnector{next: fresh}

	f := New(stale, testOptions(WithReconnector(rc), WithTargetBaud(921600))...)
	if err := f.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := f.Flash(context.Background(), standardPackage(t), nil, nil); err != nil {
		t.Fatalf("Flash() error = %v", err)
	}

	if rc.calls != 1 {
		t.Errorf("reconnect calls = %d, want 1", rc.calls)
	}
	if f.Port() != port.Port(fresh) {
		t.Errorf("port = %s, want %s", f.Port().Name(), fresh.Name())
	}
	if !stale.Closed() {
		t.Error("stale port not closed")
	}
	if len(dev.Files) != 2 || dev.Files[1].Name != "app" || !bytes.Equal(dev.Files[1].Data, appImage) {
		t.Fatalf("files = %+v, want loader and app", dev.Files)
	}
	if fresh.BaudRate() != 921600 {
		t.Errorf("reopened port baud = %d, want loader rate 921600", fresh.BaudRate())
	}
}

func TestFlash_DisconnectWithoutReconnector(t *testing.T) {
	dev := devsim.NewDevice()
	s := &dropOnDownload{Stream: devsim.NewStream("/dev/ttyUSB0", dev)}

	f := New(s, testOptions()...)
	if err := f.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	err := f.Flash(context.Background(), standardPackage(t), nil, nil)
	if !errors.Is(err, port.ErrDisconnected) {
		t.Fatalf("Flash() error = %v, want ErrDisconnected", err)
	}
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StagePartition || se.Partition != "app" {
		t.Errorf("error = %v, want app partition stage", err)
	}
}

// ============================================================
// Write / Erase / Reset Tests
// ============================================================

func TestWriteBins(t *testing.T) {
	dev := devsim.NewDevice()
	f, _ := connected(t, dev)

	bins := []Binary{
		{Name: "a.bin", Address: 0x200000, Data: pattern(5000, 9)},
		{Name: "b.bin", Address: 0x300000, Data: pattern(10, 1)},
	}
	if err := f.WriteBins(context.Background(), loaderImage, bins, nil); err != nil {
		t.Fatalf("WriteBins() error = %v", err)
	}
	if len(dev.Files) != 3 || dev.Files[0].Name != LoaderName {
		t.Fatalf("files = %+v", dev.Files)
	}
	if dev.Downloads[0].Erase != 0x2000 || dev.Downloads[1].Address != 0x300000 {
		t.Errorf("downloads = %+v", dev.Downloads)
	}
	if !bytes.Equal(dev.Files[1].Data, bins[0].Data) {
		t.Error("a.bin payload corrupted")
	}
}

func TestWriteBins_NoDelayAfterLastPartition(t *testing.T) {
	dev := devsim.NewDevice()
	f, _ := connected(t, dev, WithPartitionDelay(2*time.Second))

	start := time.Now()
	bins := []Binary{{Name: "a.bin", Address: 0x200000, Data: pattern(64, 3)}}
	if err := f.WriteBins(context.Background(), loaderImage, bins, nil); err != nil {
		t.Fatalf("WriteBins() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed >= time.Second {
		t.Errorf("WriteBins() took %s, settle delay ran after the last partition", elapsed)
	}
}

func TestEraseAll(t *testing.T) {
	t.Run("requires loader", func(t *testing.T) {
		f, _ := connected(t, devsim.NewDevice())
		if err := f.EraseAll(context.Background()); !errors.Is(err, ErrLoaderNotRunning) {
			t.Errorf("EraseAll() error = %v, want ErrLoaderNotRunning", err)
		}
	})

	t.Run("sends sentinel download", func(t *testing.T) {
		dev := devsim.NewDevice()
		f, _ := connected(t, dev)
		if err := f.BootLoader(context.Background(), loaderImage, nil); err != nil {
			t.Fatalf("BootLoader() error = %v", err)
		}
		if err := f.EraseAll(context.Background()); err != nil {
			t.Fatalf("EraseAll() error = %v", err)
		}
		want := devsim.Download{Address: 0, Length: 0, Erase: seboot.EraseAllSize}
		if len(dev.Downloads) != 1 || dev.Downloads[0] != want {
			t.Errorf("downloads = %+v, want [%+v]", dev.Downloads, want)
		}
	})
}

func TestReset(t *testing.T) {
	dev := devsim.NewDevice()
	f, _ := connected(t, dev)
	if err := f.BootLoader(context.Background(), loaderImage, nil); err != nil {
		t.Fatalf("BootLoader() error = %v", err)
	}
	if err := f.Reset(context.Background()); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if dev.Resets != 1 {
		t.Errorf("resets = %d, want 1", dev.Resets)
	}
	if err := f.Flash(context.Background(), standardPackage(t), nil, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Flash() after reset error = %v, want ErrNotConnected", err)
	}
}

func TestClose(t *testing.T) {
	s := devsim.NewStream("sim", devsim.NewDevice())
	f := New(s, testOptions()...)
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !s.Closed() {
		t.Error("port not closed")
	}
}

// ============================================================
// Cancellation Tests
// ============================================================

func TestConnect_Cancelled(t *testing.T) {
	dev := devsim.NewDevice()
	dev.ProbesBeforeAck = 1 << 30
	s := devsim.NewStream("sim", dev)

	timing := fastTiming()
	timing.Timeout = 10 * time.Second
	f := New(s, testOptions(WithHandshakeTiming(timing))...)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	err := f.Connect(ctx)
	if !iox.IsInterrupted(err) {
		t.Fatalf("Connect() error = %v, want interruption", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Connect() took %s after cancellation", elapsed)
	}
}

func TestFlash_Cancelled(t *testing.T) {
	dev := devsim.NewDevice()
	f, _ := connected(t, dev)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.Flash(ctx, standardPackage(t), nil, nil)
	if !iox.IsInterrupted(err) {
		t.Fatalf("Flash() error = %v, want interruption", err)
	}
	if IsRecoverable(err) {
		t.Error("interruption reported as recoverable")
	}
}

// ============================================================
// Error Classification Tests
// ============================================================

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", ErrTimeout, true},
		{"transfer timeout", ymodem.ErrTimeout, true},
		{"disconnect", port.ErrDisconnected, true},
		{"protocol", &seboot.ProtocolError{Command: seboot.CmdAck, Message: "rejected"}, true},
		{"interrupted", iox.ErrInterrupted, false},
		{"cancelled by peer", ymodem.ErrCancelledByPeer, false},
		{"invalid format", fwpkg.ErrInvalidFormat, false},
		{"unsupported", ErrUnsupported, false},
		{"device not found", ErrDeviceNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRecoverable(tt.err); got != tt.want {
				t.Errorf("IsRecoverable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBackoff_Ordering(t *testing.T) {
	b := DefaultBackoff()
	perm := b.Delay(fmt.Errorf("open: %w", os.ErrPermission))
	disc := b.Delay(port.ErrDisconnected)
	proto := b.Delay(&seboot.ProtocolError{Command: seboot.CmdAck})
	tmo := b.Delay(ErrTimeout)

	if !(perm > disc && disc > proto && proto > tmo) {
		t.Errorf("delays not ordered: permission %s, disconnect %s, protocol %s, timeout %s",
			perm, disc, proto, tmo)
	}
	if tmo != 0 {
		t.Errorf("timeout delay = %s, want 0", tmo)
	}
}

func TestStageError_Message(t *testing.T) {
	err := &StageError{Stage: StagePartition, Index: 2, Partition: "app", Err: ErrTimeout}
	if got := err.Error(); got != "partition 2 (app) download: timeout" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Error("StageError does not unwrap")
	}
}
