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

import "github.com/pkg/errors"

// ErrFinalizeInProgress is returned by AtomicFinalize when invoked on a
// target that is already inside an atomic batch scope.
var ErrFinalizeInProgress = errors.New("store: cannot finalize while an atomic batch is in progress")

// Participant is the atomic-lifecycle capability of a map. Composite
// storages implement it by fanning the calls out to their children, so
// an entire storage tree can join one scope.
type Participant interface {
	StartAtomic()
	IsAtomicInProgress() bool
	AtomicCheckpoint()
	ClearLatestCheckpoint()
	AtomicRewind()
	AbortAtomic()
	FinishAtomic() error
}

// Group composes several participants into one. Lifecycle calls fan out
// to every member in order; the group counts as in progress when any
// member is.
type Group []Participant

func (g Group) StartAtomic() {
	for _, p := range g {
		p.StartAtomic()
	}
}

func (g Group) IsAtomicInProgress() bool {
	for _, p := range g {
		if p.IsAtomicInProgress() {
			return true
		}
	}
	return false
}

func (g Group) AtomicCheckpoint() {
	for _, p := range g {
		p.AtomicCheckpoint()
	}
}

func (g Group) ClearLatestCheckpoint() {
	for _, p := range g {
		p.ClearLatestCheckpoint()
	}
}

func (g Group) AtomicRewind() {
	for _, p := range g {
		p.AtomicRewind()
	}
}

func (g Group) AbortAtomic() {
	for _, p := range g {
		p.AbortAtomic()
	}
}

func (g Group) FinishAtomic() error {
	for _, p := range g {
		if err := p.FinishAtomic(); err != nil {
			return err
		}
	}
	return nil
}

// AtomicBatchScope runs body inside an atomic batch on target.
//
// On entry the scope starts a batch if the target is not already inside
// one, then pushes a checkpoint. If body succeeds, a nested scope
// publishes its queued writes to the parent by clearing the checkpoint,
// while the outermost scope commits via FinishAtomic. If body fails,
// the scope rewinds to its checkpoint and propagates the error; the
// outermost scope still unwinds the batch so the depth returns to zero
// and earlier siblings' work commits.
//
// Cleanup runs on every exit path: a panicking body rewinds, aborts the
// batch when outermost, and re-panics.
func AtomicBatchScope(target Participant, body func() error) (err error) {
	nested := target.IsAtomicInProgress()
	if !nested {
		target.StartAtomic()
	}
	target.AtomicCheckpoint()

	defer func() {
		if r := recover(); r != nil {
			target.AtomicRewind()
			if !nested {
				target.AbortAtomic()
			}
			panic(r)
		}
	}()

	if err = body(); err != nil {
		target.AtomicRewind()
		if !nested {
			if ferr := target.FinishAtomic(); ferr != nil {
				return ferr
			}
		}
		return err
	}
	if nested {
		target.ClearLatestCheckpoint()
		return nil
	}
	return target.FinishAtomic()
}

// FinalizeMode selects whether AtomicFinalize commits or discards the
// batch it ran.
type FinalizeMode int

const (
	// RealRun commits the batch when the body succeeds.
	RealRun FinalizeMode = iota
	// DryRun always discards the batch, regardless of body outcome.
	DryRun
)

// AtomicFinalize runs body inside a fresh atomic batch on target, for
// finalization sequences that must own the whole batch. Unlike
// AtomicBatchScope it refuses to nest: if the target is already inside
// a batch scope, ErrFinalizeInProgress is returned without executing
// body. On body failure the batch is aborted and the error propagated;
// in DryRun mode the batch is aborted even on success.
func AtomicFinalize(target Participant, mode FinalizeMode, body func() error) (err error) {
	if target.IsAtomicInProgress() {
		return ErrFinalizeInProgress
	}
	target.StartAtomic()

	defer func() {
		if r := recover(); r != nil {
			target.AbortAtomic()
			panic(r)
		}
	}()

	if err = body(); err != nil {
		target.AbortAtomic()
		return err
	}
	if mode == DryRun {
		target.AbortAtomic()
		return nil
	}
	return target.FinishAtomic()
}
