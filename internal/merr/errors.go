// Package merr defines the error taxonomy shared across ModuForge's core
// packages: schema compilation, step application, transaction dispatch,
// plugin hooks, the CRDT bridge, and the resource table.
//
// Every kind is a sentinel error (checked with errors.Is) paired with a
// typed struct that carries the context the spec requires (plugin key,
// room id, cause chain). Construction goes through golang.org/x/xerrors
// so wrapped errors keep a stack frame; callers compare kinds with the
// standard library's errors.Is/errors.As.
package merr

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Sentinel errors usable with errors.Is. Concrete error types below
// report one of these from Is/Unwrap so kind checks don't require type
// assertions.
var (
	ErrSchema            = xerrors.New("schema error")
	ErrDuplicateType     = xerrors.New("duplicate type name")
	ErrUnresolvedRef     = xerrors.New("unresolved reference")
	ErrUnparseableExpr   = xerrors.New("unparseable content expression")
	ErrNoTopNode         = xerrors.New("top node type not defined")
	ErrStep              = xerrors.New("step error")
	ErrDuplicateID       = xerrors.New("duplicate node id")
	ErrMissingParent     = xerrors.New("missing parent")
	ErrCycle             = xerrors.New("cycle detected")
	ErrContentMismatch   = xerrors.New("content does not match schema")
	ErrUnknownAttribute  = xerrors.New("unknown attribute")
	ErrMarkNotAllowed    = xerrors.New("mark not allowed")
	ErrUnknownStepKind   = xerrors.New("unknown step kind")
	ErrNotAChild         = xerrors.New("id is not a child of parent")
	ErrTransactionFilter = xerrors.New("transaction filtered")
	ErrAppendLoop        = xerrors.New("append loop exceeded depth limit")
	ErrPlugin            = xerrors.New("plugin error")
	ErrPluginPanic       = xerrors.New("plugin panicked")
	ErrRoomNotFound      = xerrors.New("room not found")
	ErrRoomAlreadyExists = xerrors.New("room already exists")
	ErrRoomShutting      = xerrors.New("room is shutting down")
	ErrSyncMismatch      = xerrors.New("crdt sync mismatch")
	ErrCancelled         = xerrors.New("dispatch cancelled")
	ErrResourceMissing   = xerrors.New("resource not found")
	ErrResourceWrongType = xerrors.New("resource has unexpected type")
)

// SchemaError wraps a compile-time schema violation.
type SchemaError struct {
	Kind   error // one of ErrDuplicateType, ErrUnresolvedRef, ErrUnparseableExpr, ErrNoTopNode
	Detail string
	cause  error
}

func NewSchemaError(kind error, detail string, cause error) *SchemaError {
	return &SchemaError{Kind: kind, Detail: detail, cause: cause}
}

func (e *SchemaError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", ErrSchema, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", ErrSchema, e.Detail)
}

func (e *SchemaError) Unwrap() error { return e.cause }

func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema || target == e.Kind
}

// StepError wraps a step-time violation raised while applying a Step.
type StepError struct {
	Kind   error // one of ErrDuplicateID, ErrMissingParent, ErrCycle, ErrContentMismatch, ErrUnknownAttribute, ErrMarkNotAllowed, ErrUnknownStepKind, ErrNotAChild
	StepID string
	Detail string
}

func NewStepError(kind error, stepID, detail string) *StepError {
	return &StepError{Kind: kind, StepID: stepID, Detail: detail}
}

func (e *StepError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("%s: %s (step %s): %s", ErrStep, e.Kind, e.StepID, e.Detail)
	}
	return fmt.Sprintf("%s: %s: %s", ErrStep, e.Kind, e.Detail)
}

func (e *StepError) Is(target error) bool {
	return target == ErrStep || target == e.Kind
}

// TransactionFilteredError carries the plugin key and optional reason of
// the filter hook that refused a transaction.
type TransactionFilteredError struct {
	PluginKey string
	Reason    string
}

func (e *TransactionFilteredError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: plugin %q: %s", ErrTransactionFilter, e.PluginKey, e.Reason)
	}
	return fmt.Sprintf("%s: plugin %q", ErrTransactionFilter, e.PluginKey)
}

func (e *TransactionFilteredError) Unwrap() error { return ErrTransactionFilter }

// AppendLoopError is returned when append_transaction recursion exceeds
// the configured depth.
type AppendLoopError struct {
	Depth int
}

func (e *AppendLoopError) Error() string {
	return fmt.Sprintf("%s: exceeded depth %d", ErrAppendLoop, e.Depth)
}

func (e *AppendLoopError) Unwrap() error { return ErrAppendLoop }

// PluginError surfaces a user hook failure without poisoning the runtime.
type PluginError struct {
	PluginKey string
	Hook      string // "filter", "append_transaction", "field.apply", "middleware.before", "middleware.after"
	cause     error
}

func NewPluginError(pluginKey, hook string, cause error) *PluginError {
	return &PluginError{PluginKey: pluginKey, Hook: hook, cause: cause}
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("%s: plugin %q hook %q: %v", ErrPlugin, e.PluginKey, e.Hook, e.cause)
}

func (e *PluginError) Unwrap() error { return e.cause }

func (e *PluginError) Is(target error) bool { return target == ErrPlugin }

// PluginPanic is the trapped form of a panic raised inside a plugin hook.
type PluginPanic struct {
	PluginKey string
	Hook      string
	Recovered any
}

func (e *PluginPanic) Error() string {
	return fmt.Sprintf("%s: plugin %q hook %q: %v", ErrPluginPanic, e.PluginKey, e.Hook, e.Recovered)
}

func (e *PluginPanic) Unwrap() error { return ErrPluginPanic }

// RoomError reports a CRDT bridge room lifecycle violation.
type RoomError struct {
	Kind   error // ErrRoomNotFound, ErrRoomAlreadyExists, ErrRoomShutting
	RoomID string
}

func NewRoomError(kind error, roomID string) *RoomError {
	return &RoomError{Kind: kind, RoomID: roomID}
}

func (e *RoomError) Error() string {
	return fmt.Sprintf("%s: room %q", e.Kind, e.RoomID)
}

func (e *RoomError) Unwrap() error { return e.Kind }

// SyncMismatchError is a non-fatal CRDT projection failure: it is logged
// and emitted as an event, never returned to a dispatch caller.
type SyncMismatchError struct {
	RoomID string
	Detail string
	cause  error
}

func NewSyncMismatchError(roomID, detail string, cause error) *SyncMismatchError {
	return &SyncMismatchError{RoomID: roomID, Detail: detail, cause: cause}
}

func (e *SyncMismatchError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: room %q: %s: %v", ErrSyncMismatch, e.RoomID, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: room %q: %s", ErrSyncMismatch, e.RoomID, e.Detail)
}

func (e *SyncMismatchError) Unwrap() error { return e.cause }

func (e *SyncMismatchError) Is(target error) bool { return target == ErrSyncMismatch }

// CancelledError reports a dispatch aborted by deadline or cooperative
// cancellation signal.
type CancelledError struct {
	Phase string // which phase boundary observed the cancellation
}

func (e *CancelledError) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("%s: at %s", ErrCancelled, e.Phase)
	}
	return ErrCancelled.Error()
}

func (e *CancelledError) Unwrap() error { return ErrCancelled }

// ResourceError reports a missing or mistyped resource lookup.
type ResourceError struct {
	Kind error // ErrResourceMissing, ErrResourceWrongType
	ID   string
}

func NewResourceError(kind error, id string) *ResourceError {
	return &ResourceError{Kind: kind, ID: id}
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s: %q", e.Kind, e.ID)
}

func (e *ResourceError) Unwrap() error { return e.Kind }

// HTTPStatus maps an error kind to the stable HTTP status an external
// boundary should report. RoomNotFound maps to 404; everything else maps
// to 500. The core module doesn't run an HTTP server itself (out of
// scope), but this mapping is part of the bridge's documented contract.
func HTTPStatus(err error) int {
	if err == nil {
		return 200
	}
	var re *RoomError
	if xerrors.As(err, &re) && xerrors.Is(re.Kind, ErrRoomNotFound) {
		return 404
	}
	return 500
}

// Code returns a stable, machine-readable error code string for external
// boundaries, independent of the Go error message (which may change).
func Code(err error) string {
	switch {
	case xerrors.Is(err, ErrTransactionFilter):
		return "TRANSACTION_FILTERED"
	case xerrors.Is(err, ErrAppendLoop):
		return "APPEND_LOOP"
	case xerrors.Is(err, ErrPluginPanic):
		return "PLUGIN_PANIC"
	case xerrors.Is(err, ErrPlugin):
		return "PLUGIN_ERROR"
	case xerrors.Is(err, ErrRoomNotFound):
		return "ROOM_NOT_FOUND"
	case xerrors.Is(err, ErrRoomAlreadyExists):
		return "ROOM_ALREADY_EXISTS"
	case xerrors.Is(err, ErrRoomShutting):
		return "ROOM_SHUTTING"
	case xerrors.Is(err, ErrSyncMismatch):
		return "SYNC_MISMATCH"
	case xerrors.Is(err, ErrCancelled):
		return "CANCELLED"
	case xerrors.Is(err, ErrResourceMissing), xerrors.Is(err, ErrResourceWrongType):
		return "RESOURCE_ERROR"
	case xerrors.Is(err, ErrStep):
		return "STEP_ERROR"
	case xerrors.Is(err, ErrSchema):
		return "SCHEMA_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}
