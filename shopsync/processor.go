// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package shopsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Processor applies one record type. Implementations must be idempotent
// under at-least-once invocation: reprocessing a record whose effect was
// already applied must not double-apply it. The Store's Apply* gate is the
// standard way to satisfy this.
type Processor interface {
	// Type returns the record type this processor handles.
	Type() RecordType

	// Validate checks the payload shape before any side effect. A failure
	// here is a TransientProcessingError like any other processor failure.
	Validate(payload json.RawMessage) error

	// Apply performs the record's effect. Failures are reported as errors;
	// the scheduler converts them into state and error-log entries.
	Apply(ctx context.Context, rec *OfflineRecord) error
}

// ProcessorRegistry is a closed dispatch table keyed by record type. Unknown
// types fail fast at registration and enqueue time instead of silently
// falling through.
type ProcessorRegistry struct {
	mu    sync.RWMutex
	procs map[RecordType]Processor
}

// NewProcessorRegistry creates an empty registry.
func NewProcessorRegistry() *ProcessorRegistry {
	return &ProcessorRegistry{procs: make(map[RecordType]Processor)}
}

// Register adds a processor; duplicate registration for a type is an error.
func (r *ProcessorRegistry) Register(p Processor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := p.Type()
	if t == "" {
		return fmt.Errorf("processor type must not be empty")
	}
	if _, exists := r.procs[t]; exists {
		return fmt.Errorf("processor already registered for type %q", t)
	}
	r.procs[t] = p
	return nil
}

// Lookup returns the processor for a record type.
func (r *ProcessorRegistry) Lookup(t RecordType) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procs[t]
	return p, ok
}

// Types returns all registered record types.
func (r *ProcessorRegistry) Types() []RecordType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RecordType, 0, len(r.procs))
	for t := range r.procs {
		out = append(out, t)
	}
	return out
}

// Process validates and applies the record with its registered processor.
// Processor failures come back as TransientProcessingError.
func (r *ProcessorRegistry) Process(ctx context.Context, rec *OfflineRecord) error {
	p, ok := r.Lookup(rec.Type)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRecordType, rec.Type)
	}
	if err := p.Validate(rec.Payload); err != nil {
		return Transient(ReasonValidation, err)
	}
	if err := p.Apply(ctx, rec); err != nil {
		var terr *TransientProcessingError
		if errors.As(err, &terr) {
			return terr
		}
		return Transient(ReasonInternalError, err)
	}
	return nil
}
