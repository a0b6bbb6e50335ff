// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package uart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrame(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload []byte
		want    []byte
	}{
		{
			name:    "read device id",
			payload: readRequest([]byte{0x00}, 4),
			want:    []byte{0x00, 0x00, 0xFF, 0x05, 0xFB, 0xD4, 0x01, 0x00, 0x04, 0x00, 0x27, 0x00},
		},
		{
			name:    "write sys ctrl",
			payload: writeRequest([]byte{0x8D}, []byte{0x02}),
			want:    []byte{0x00, 0x00, 0xFF, 0x04, 0xFC, 0xD4, 0x02, 0x8D, 0x02, 0x9B, 0x00},
		},
		{
			name:    "empty",
			payload: nil,
			want:    []byte{0x00, 0x00, 0xFF, 0x01, 0xFF, 0xD4, 0x2C, 0x00},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := encodeFrame(hostToBridge, tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeFrame_TooLarge(t *testing.T) {
	t.Parallel()

	_, err := encodeFrame(hostToBridge, make([]byte, maxFrameData))
	require.ErrorIs(t, err, errFrameTooLarge)

	frm, err := encodeFrame(hostToBridge, make([]byte, maxFrameData-1))
	require.NoError(t, err)
	assert.Len(t, frm, maxFrameData+frameOverhead)
}

func TestMaxChunkFitsFrame(t *testing.T) {
	t.Parallel()

	hdr := []byte{0xC9, 0xFF, 0xFF}
	_, err := encodeFrame(hostToBridge, writeRequest(hdr, make([]byte, maxChunk)))
	require.NoError(t, err)
	_, err = encodeFrame(bridgeToHost, append([]byte{statusOK}, make([]byte, maxChunk)...))
	require.NoError(t, err)
}

func TestChecksum(t *testing.T) {
	t.Parallel()

	assert.Equal(t, byte(0x00), checksum())
	assert.Equal(t, byte(0x2C), checksum([]byte{0xD4}))
	assert.Equal(t, byte(0x27), checksum([]byte{0xD4}, []byte{0x01, 0x00, 0x04, 0x00}))
}
