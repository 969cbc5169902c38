// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package shopsync

import (
	"context"
	"log/slog"
)

// SyncHook observes terminal scheduler outcomes. Hooks are side-effecting
// only (metrics, audit); they never alter offline record state, and a hook
// failure never fails the underlying task.
type SyncHook interface {
	OnSuccess(ctx context.Context, rec *OfflineRecord)
	OnFailure(ctx context.Context, rec *OfflineRecord, err error)
}

// HookFuncs adapts plain functions to SyncHook.
type HookFuncs struct {
	Success func(ctx context.Context, rec *OfflineRecord)
	Failure func(ctx context.Context, rec *OfflineRecord, err error)
}

func (h HookFuncs) OnSuccess(ctx context.Context, rec *OfflineRecord) {
	if h.Success != nil {
		h.Success(ctx, rec)
	}
}

func (h HookFuncs) OnFailure(ctx context.Context, rec *OfflineRecord, err error) {
	if h.Failure != nil {
		h.Failure(ctx, rec, err)
	}
}

// HookDispatcher fans terminal outcomes out to registered hooks, filtered to
// the offline-sync task family. Panics inside hooks are recovered and
// logged.
type HookDispatcher struct {
	family map[RecordType]bool
	hooks  []SyncHook
	logger *slog.Logger
}

// NewHookDispatcher creates a dispatcher observing the given record types.
// A nil family defaults to the built-in offline-sync task family.
func NewHookDispatcher(family []RecordType, logger *slog.Logger) *HookDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if family == nil {
		family = []RecordType{TypeAdjustStock, TypeRecordSale, TypeUpdateCustomer}
	}
	set := make(map[RecordType]bool, len(family))
	for _, t := range family {
		set[t] = true
	}
	return &HookDispatcher{family: set, logger: logger}
}

// Register adds a hook. Not safe to call concurrently with dispatching.
func (d *HookDispatcher) Register(h SyncHook) {
	d.hooks = append(d.hooks, h)
}

// DispatchSuccess invokes OnSuccess on every hook for records in the
// observed family.
func (d *HookDispatcher) DispatchSuccess(ctx context.Context, rec *OfflineRecord) {
	if !d.family[rec.Type] {
		return
	}
	for _, h := range d.hooks {
		d.safeInvoke(rec, func() { h.OnSuccess(ctx, rec) })
	}
}

// DispatchFailure invokes OnFailure on every hook for records in the
// observed family.
func (d *HookDispatcher) DispatchFailure(ctx context.Context, rec *OfflineRecord, err error) {
	if !d.family[rec.Type] {
		return
	}
	for _, h := range d.hooks {
		d.safeInvoke(rec, func() { h.OnFailure(ctx, rec, err) })
	}
}

func (d *HookDispatcher) safeInvoke(rec *OfflineRecord, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Sync hook panicked",
				"record_id", rec.ID, "type", rec.Type, "panic", r)
		}
	}()
	fn()
}
