// Copyright 2024-2025 The rpcx-rs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package internal

import (
	"encoding/binary"
	"hash"
	"math/bits"
)

const (
	murmurC1 = 0xCC9E2D51
	murmurC2 = 0x1B873593
)

// MurmurHash3 is an incremental implementation of the 32-bit MurmurHash3
// function. It is used to rank servers for rendezvous-hash subsetting,
// where a fast non-cryptographic hash with good distribution is wanted.
//
// Note that Reset returns the state to seed zero regardless of the seed
// given to NewMurmurHash3.
type MurmurHash3 struct {
	state uint32
	total int
	buf   [4]byte
	nbuf  int
}

func NewMurmurHash3(seed uint32) hash.Hash32 {
	return &MurmurHash3{state: seed}
}

func MurmurHash3Sum(data []byte, seed uint32) uint32 {
	h := MurmurHash3{state: seed}
	_, _ = h.Write(data)
	return h.Sum32()
}

func (h *MurmurHash3) Write(data []byte) (int, error) {
	written := len(data)
	h.total += written
	if h.nbuf > 0 {
		n := copy(h.buf[h.nbuf:], data)
		h.nbuf += n
		if h.nbuf < len(h.buf) {
			return written, nil
		}
		h.state = round(h.state, binary.LittleEndian.Uint32(h.buf[:]))
		h.nbuf = 0
		data = data[n:]
	}
	for ; len(data) >= 4; data = data[4:] {
		h.state = round(h.state, binary.LittleEndian.Uint32(data))
	}
	h.nbuf = copy(h.buf[:], data)
	return written, nil
}

//nolint:varnamelen // names match reference implementation for clarity
func (h *MurmurHash3) Sum32() uint32 {
	var k1 uint32
	for i := h.nbuf - 1; i >= 0; i-- {
		k1 = k1<<8 | uint32(h.buf[i])
	}
	h1 := h.state

	k1 *= murmurC1
	k1 = bits.RotateLeft32(k1, 15)
	k1 *= murmurC2
	h1 ^= k1

	h1 ^= uint32(h.total)
	h1 ^= h1 >> 16
	h1 *= 0x85EBCA6B
	h1 ^= h1 >> 13
	h1 *= 0xC2B2AE35
	h1 ^= h1 >> 16
	return h1
}

//nolint:varnamelen // names match reference implementation for clarity
func round(h1, k1 uint32) uint32 {
	k1 *= murmurC1
	k1 = bits.RotateLeft32(k1, 15)
	k1 *= murmurC2
	h1 ^= k1
	h1 = bits.RotateLeft32(h1, 13)
	return h1*5 + 0xE6546B64
}

func (h *MurmurHash3) Sum(b []byte) []byte {
	return binary.LittleEndian.AppendUint32(b, h.Sum32())
}

func (h *MurmurHash3) Reset() {
	*h = MurmurHash3{}
}

func (h *MurmurHash3) Size() int {
	return 4
}

func (h *MurmurHash3) BlockSize() int {
	return 4
}
