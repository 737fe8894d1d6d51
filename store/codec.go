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
	"encoding/binary"
	"encoding/json"

	"github.com/pkg/errors"
)

// Codec converts typed keys and values to and from their stored byte
// form. Encode must be deterministic: equal inputs produce equal bytes,
// so that prefixed keys compare structurally.
type Codec[T any] interface {
	Encode(T) ([]byte, error)
	Decode([]byte) (T, error)
}

// Uint64Codec stores uint64 values as 8 fixed little-endian bytes.
type Uint64Codec struct{}

func (Uint64Codec) Encode(v uint64) ([]byte, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf, nil
}

func (Uint64Codec) Decode(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, errors.Errorf("store: invalid uint64 encoding length %d", len(data))
	}
	return binary.LittleEndian.Uint64(data), nil
}

// StringCodec stores strings as their raw bytes.
type StringCodec struct{}

func (StringCodec) Encode(v string) ([]byte, error) {
	return []byte(v), nil
}

func (StringCodec) Decode(data []byte) (string, error) {
	return string(data), nil
}

// BytesCodec passes byte slices through unchanged, copying on decode so
// the caller never aliases engine-owned memory.
type BytesCodec struct{}

func (BytesCodec) Encode(v []byte) ([]byte, error) {
	return v, nil
}

func (BytesCodec) Decode(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

// JSONCodec stores arbitrary structured values as JSON. Note that JSON
// encoding of maps is not byte-stable across Go versions for all types;
// use it for values, not keys.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v T) ([]byte, error) {
	data, err := json.Marshal(v)
	return data, errors.Wrap(err, "store: json encode")
}

func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, errors.Wrap(err, "store: json decode")
}
