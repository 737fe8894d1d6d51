// Copyright 2023 The batchdb Authors
// This file is part of the batchdb library.
//
// The batchdb library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The batchdb library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the batchdb library. If not, see <http://www.gnu.org/licenses/>.

package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUint64CodecRoundtrip(t *testing.T) {
	c := Uint64Codec{}
	for _, v := range []uint64{0, 1, 0xdeadbeef, ^uint64(0)} {
		enc, err := c.Encode(v)
		require.NoError(t, err)
		require.Len(t, enc, 8)

		// Equal inputs must produce equal bytes.
		enc2, err := c.Encode(v)
		require.NoError(t, err)
		require.Equal(t, enc, enc2)

		dec, err := c.Decode(enc)
		require.NoError(t, err)
		require.Equal(t, v, dec)
	}

	_, err := c.Decode([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestJSONCodecRoundtrip(t *testing.T) {
	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	c := JSONCodec[record]{}

	enc, err := c.Encode(record{Name: "x", Count: 3})
	require.NoError(t, err)

	dec, err := c.Decode(enc)
	require.NoError(t, err)
	require.Equal(t, record{Name: "x", Count: 3}, dec)

	_, err = c.Decode([]byte("{broken"))
	require.Error(t, err)
}

func TestBytesCodecCopiesOnDecode(t *testing.T) {
	c := BytesCodec{}
	src := []byte("shared")

	dec, err := c.Decode(src)
	require.NoError(t, err)
	src[0] = 'X'
	require.Equal(t, []byte("shared"), dec)
}
