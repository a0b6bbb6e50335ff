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

package dw1000

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeader_Encode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		want   []byte
		header Header
	}{
		{name: "read no offset", header: Header{Register: RegDevID}, want: []byte{0x00}},
		{name: "write no offset", header: Header{Register: RegSysCtrl, Write: true}, want: []byte{0x8D}},
		{name: "short offset", header: Header{Register: RegDxTime, Offset: 1, Write: true}, want: []byte{0xCA, 0x01}},
		{name: "max short offset", header: Header{Register: RegRxBuffer, Offset: 0x7F}, want: []byte{0x51, 0x7F}},
		{name: "extended offset", header: Header{Register: RegRxBuffer, Offset: 0x80}, want: []byte{0x51, 0x80, 0x01}},
		{name: "large offset", header: Header{Register: RegTxBuffer, Offset: 0x3FF, Write: true}, want: []byte{0xC9, 0xFF, 0x07}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := tt.header.Encode()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			decoded, n, err := DecodeHeader(append(got, 0xAA, 0xBB))
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), n)
			assert.Equal(t, tt.header, decoded)
		})
	}
}

func TestHeader_EncodeErrors(t *testing.T) {
	t.Parallel()

	_, err := Header{Register: 0x40}.Encode()
	require.ErrorIs(t, err, ErrBadHeader)

	_, err = Header{Register: RegRxBuffer, Offset: 0x8000}.Encode()
	require.ErrorIs(t, err, ErrBadHeader)
}

func TestDecodeHeader_Truncated(t *testing.T) {
	t.Parallel()

	for _, b := range [][]byte{nil, {0x40}, {0x51, 0x80}} {
		_, _, err := DecodeHeader(b)
		require.ErrorIs(t, err, ErrBadHeader, "% X", b)
	}
}

func TestStatusMapping(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint32(0x00220000), StatusAllRxTimeout)
	assert.Equal(t, uint32(0x24059000), StatusAllRxError)
	assert.Equal(t, byte(0x08), hpdwarnBit)

	raw := StatusTxFrameSent | StatusRxFCSGood | StatusRxPreambleTO | StatusLDEError
	f := StatusFromRaw(raw)
	assert.Equal(t, "txComplete|rxGood|rxTimeout|rxError", f.String())
	assert.Equal(t, StatusTxFrameSent|StatusRxFCSGood|StatusRxDataReady|StatusAllRxTimeout|StatusAllRxError,
		RawFromStatus(f))
	assert.Zero(t, RawFromStatus(0))
}

func TestRegisterSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1024, RegisterSize(RegTxBuffer))
	assert.Equal(t, 5, RegisterSize(RegSysStatus))
	assert.Zero(t, RegisterSize(0x3E))
}
