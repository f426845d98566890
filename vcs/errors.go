// Package vcs implements the collection versioning engine: the public
// operations (init, register, checkout, create_branch, delete_version_subtree,
// diff, stash/stash_apply/stash_discard, discard_changes, log, status,
// branches) and the sync engine (push, pull, resolve_conflicts) described by
// spec §4.7-4.8, composed from the delta, store, logtree, deltatree,
// listener, and lock packages.
package vcs

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per named error kind in spec §7.
var (
	ErrNotInitialized       = errors.New("vcs: collection is not initialized")
	ErrAlreadyInitialized   = errors.New("vcs: collection is already initialized")
	ErrInvalidVersion       = errors.New("vcs: invalid version")
	ErrBranchExists         = errors.New("vcs: branch already exists")
	ErrUnknownBranch        = errors.New("vcs: unknown branch")
	ErrUncommittedChanges   = errors.New("vcs: uncommitted changes, stash or discard first")
	ErrDetachedWithoutBranch = errors.New("vcs: detached HEAD requires an explicit branch to register on")
	ErrNonFastForward       = errors.New("vcs: push rejected, remote branch is not an ancestor of local, pull first")
	ErrAutoMergeFailed      = errors.New("vcs: automatic merge failed, conflicts recorded")
	ErrUnresolvedConflicts  = errors.New("vcs: unresolved conflicts remain")
	ErrListenerStalled      = errors.New("vcs: change listener fence timed out")
	ErrLockTimeout          = errors.New("vcs: timed out acquiring the collection lock")
	ErrLockLost             = errors.New("vcs: lock was lost during the operation")
	ErrDatabaseError        = errors.New("vcs: underlying database error")
)

// ConflictError wraps ErrAutoMergeFailed with the set of document ids that
// could not be auto-merged, in the idiom of nodestorage/v2/errors.go's
// VersionError (a rich wrapped-error struct carrying operation-specific
// detail, satisfying Is/Unwrap against a sentinel).
type ConflictError struct {
	DocumentIDs []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("vcs: automatic merge failed for %d document(s)", len(e.DocumentIDs))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrAutoMergeFailed
}

func (e *ConflictError) Unwrap() error {
	return ErrAutoMergeFailed
}
