package masstree

import "errors"

// Error taxonomy, spec.md §7. Modeled as sentinel errors checked with
// errors.Is, following the pack's storage-layer idiom (see
// _examples/huynhanx03-go-common/pkg/database/widecolumn/errors.go)
// rather than the original's small integer codes — Go has no equivalent of
// a cheap tagged-int return, and every caller in this codebase already
// needs to branch with errors.Is/errors.As on *some* exported error type.
var (
	// ErrNoFreePages is NoFreePages: the page pool is exhausted. Fatal for
	// the current operation; the caller usually needs to force a snapshot.
	ErrNoFreePages = errors.New("masstree: no free pages")

	// ErrAlreadyExists is StrAlreadyExists: storage create when one with
	// that id already exists.
	ErrAlreadyExists = errors.New("masstree: storage already exists")

	// ErrKeyNotFound is StrKeyNotFound.
	ErrKeyNotFound = errors.New("masstree: key not found")

	// ErrTooLongPayload is StrTooLongPayload: payload + suffix exceeds
	// leaf capacity even after a split.
	ErrTooLongPayload = errors.New("masstree: payload too long")

	// ErrTooShortPayload is StrTooShortPayload: an overwrite/increment
	// targets bytes beyond the stored payload's length.
	ErrTooShortPayload = errors.New("masstree: payload too short")

	// ErrTooSmallPayloadBuffer is StrTooSmallPayloadBuffer: the caller's
	// read buffer cannot hold the full record.
	ErrTooSmallPayloadBuffer = errors.New("masstree: caller buffer too small")

	// ErrRetry is StrMasstreeRetry. Every exported operation loops
	// internally while an inner call returns ErrRetry and converts anything
	// else straight through (spec.md §4.8); ErrRetry reaches the caller only
	// once MaxStructuralRetries attempts are exhausted.
	ErrRetry = errors.New("masstree: retry")

	// ErrNotImplemented is reserved for future snapshot-backed reads.
	ErrNotImplemented = errors.New("masstree: not implemented")

	// ErrNotInitialized rejects operations issued outside the engine's
	// init/teardown window (spec.md §9 "Process-wide state").
	ErrNotInitialized = errors.New("masstree: engine not initialized")
)

// MaxStructuralRetries caps structural retry loops for diagnostics (spec.md §9
// "Cooperative retry loops"). MaxStructuralRetries mirrors the original's
// suggested cap of 1000.
const MaxStructuralRetries = 1000
