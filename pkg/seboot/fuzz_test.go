// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package seboot

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// newFuzzRng creates a generator seeded from FUZZ_SEED or the clock and logs the seed
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := time.Now().UnixNano()
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if s, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			seed = s
		}
	}
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

var fuzzCommands = []Command{
	CmdHandshake, CmdAck, CmdSetBaudRate, CmdDownload, CmdReset,
	CmdDownloadNv, CmdUploadData, CmdReadOtpEfuse, CmdWriteOtpEfuse, CmdFlashLock,
}

// noise returns random bytes that cannot contain the first magic byte
func noise(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	rng.Read(b)
	for i := range b {
		if b[i] == magicBytes[0] {
			b[i] = 0
		}
	}
	return b
}

// ============================================================
// Decoder Fuzz Tests
// ============================================================

// TestFuzzDecodeNext_RandomBytes feeds random bytes to the decoder and
// checks it neither panics nor grows its carry buffer
func TestFuzzDecodeNext_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		data := make([]byte, rng.Intn(512)+1)
		rng.Read(data)

		_, rest := DecodeNext(data)
		if len(rest) > len(data) {
			t.Fatalf("round %d: rest %d bytes longer than input %d", i, len(rest), len(data))
		}
	}
}

// TestFuzzDecodeNext_FrameInNoise embeds a random frame between noise and
// checks it is recovered intact
func TestFuzzDecodeNext_FrameInNoise(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		cmd := fuzzCommands[rng.Intn(len(fuzzCommands))]
		payload := make([]byte, rng.Intn(257))
		rng.Read(payload)

		frame := Encode(cmd, payload)
		tail := noise(rng, rng.Intn(32))
		stream := append(append(noise(rng, rng.Intn(64)), frame...), tail...)

		f, rest := DecodeNext(stream)
		if f == nil {
			t.Fatalf("round %d: frame not found (cmd %s, %d payload bytes)", i, cmd, len(payload))
		}
		if f.Command != cmd || !bytes.Equal(f.Payload, payload) {
			t.Fatalf("round %d: decoded %s/%d bytes, want %s/%d bytes", i, f.Command, len(f.Payload), cmd, len(payload))
		}
		if !bytes.Equal(rest, tail) {
			t.Fatalf("round %d: rest = % X, want % X", i, rest, tail)
		}
	}
}

// TestFuzzDecodeNext_SplitDelivery delivers a frame in random chunks the
// way a serial read loop does
func TestFuzzDecodeNext_SplitDelivery(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		payload := make([]byte, rng.Intn(64))
		rng.Read(payload)
		stream := append(noise(rng, rng.Intn(16)), Encode(CmdAck, payload)...)

		var carry []byte
		var found *Frame
		for len(stream) > 0 {
			n := rng.Intn(len(stream)) + 1
			carry = append(carry, stream[:n]...)
			stream = stream[n:]

			f, rest := DecodeNext(carry)
			carry = append([]byte(nil), rest...)
			if f != nil {
				if found != nil {
					t.Fatalf("round %d: frame decoded twice", i)
				}
				found = f
			}
		}
		if found == nil || !bytes.Equal(found.Payload, payload) {
			t.Fatalf("round %d: frame lost in split delivery", i)
		}
	}
}

// TestFuzzDecode_CorruptedFrame flips one byte of a frame and checks the
// corrupted frame is never accepted as the original
func TestFuzzDecode_CorruptedFrame(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		payload := make([]byte, rng.Intn(32)+1)
		rng.Read(payload)
		frame := Encode(CmdDownload, payload)

		pos := headerSize + rng.Intn(len(frame)-headerSize)
		frame[pos] ^= byte(rng.Intn(255) + 1)

		if f := Decode(frame); f != nil && bytes.Equal(f.Payload, payload) {
			t.Fatalf("round %d: corruption at byte %d accepted", i, pos)
		}
	}
}
