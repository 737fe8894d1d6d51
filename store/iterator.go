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
	"github.com/pkg/errors"

	"github.com/miazn/batchdb/kvdb"
)

// MapIterator walks the committed entries of one map in engine key
// order, decoding lazily. A decode failure stops iteration and is
// reported by Error; iterators never panic. Iterators must be released.
type MapIterator[K comparable, V any] struct {
	inner  kvdb.Iterator
	kc     Codec[K]
	vc     Codec[V]
	prefix int

	key   K
	value V
	err   error
}

// Next advances to the next entry, decoding key and value. It returns
// false when the prefix scan is exhausted or a decode fails.
func (it *MapIterator[K, V]) Next() bool {
	if it.err != nil {
		return false
	}
	if !it.inner.Next() {
		return false
	}
	key, err := it.kc.Decode(it.inner.Key()[it.prefix:])
	if err != nil {
		it.err = errors.Wrap(err, "store: decode key")
		return false
	}
	value, err := it.vc.Decode(it.inner.Value())
	if err != nil {
		it.err = errors.Wrap(err, "store: decode value")
		return false
	}
	it.key, it.value = key, value
	return true
}

// Key returns the key of the current entry.
func (it *MapIterator[K, V]) Key() K {
	return it.key
}

// Value returns the value of the current entry.
func (it *MapIterator[K, V]) Value() V {
	return it.value
}

// Error returns the first decode or engine error encountered.
func (it *MapIterator[K, V]) Error() error {
	if it.err != nil {
		return it.err
	}
	return it.inner.Error()
}

// Release frees the underlying engine iterator.
func (it *MapIterator[K, V]) Release() {
	it.inner.Release()
}

// Count drains the iterator and returns the number of remaining
// entries, releasing it afterwards.
func (it *MapIterator[K, V]) Count() (int, error) {
	defer it.Release()
	n := 0
	for it.Next() {
		n++
	}
	return n, it.Error()
}

// KeyIterator walks only the committed keys of one map.
type KeyIterator[K comparable] struct {
	inner  kvdb.Iterator
	kc     Codec[K]
	prefix int

	key K
	err error
}

func (it *KeyIterator[K]) Next() bool {
	if it.err != nil {
		return false
	}
	if !it.inner.Next() {
		return false
	}
	key, err := it.kc.Decode(it.inner.Key()[it.prefix:])
	if err != nil {
		it.err = errors.Wrap(err, "store: decode key")
		return false
	}
	it.key = key
	return true
}

func (it *KeyIterator[K]) Key() K {
	return it.key
}

func (it *KeyIterator[K]) Error() error {
	if it.err != nil {
		return it.err
	}
	return it.inner.Error()
}

func (it *KeyIterator[K]) Release() {
	it.inner.Release()
}

// ValueIterator walks only the committed values of one map.
type ValueIterator[V any] struct {
	inner kvdb.Iterator
	vc    Codec[V]

	value V
	err   error
}

func (it *ValueIterator[V]) Next() bool {
	if it.err != nil {
		return false
	}
	if !it.inner.Next() {
		return false
	}
	value, err := it.vc.Decode(it.inner.Value())
	if err != nil {
		it.err = errors.Wrap(err, "store: decode value")
		return false
	}
	it.value = value
	return true
}

func (it *ValueIterator[V]) Value() V {
	return it.value
}

func (it *ValueIterator[V]) Error() error {
	if it.err != nil {
		return it.err
	}
	return it.inner.Error()
}

func (it *ValueIterator[V]) Release() {
	it.inner.Release()
}
