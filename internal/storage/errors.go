package storage

import (
	"errors"
	"fmt"
)

// Error families. Use errors.Is to branch on them.
var (
	ErrConfiguration = errors.New("blob store configuration error")
	ErrStorage       = errors.New("storage error")
)

// Configuration error kinds, raised while building the blob store registry.
var (
	ErrMissingID        = errors.New("blob store id missing")
	ErrDuplicateID      = errors.New("duplicate blob store id")
	ErrDuplicateDefault = errors.New("duplicate default blob store")
	ErrDefaultDisabled  = errors.New("default blob store disabled")
	ErrReservedID       = errors.New("reserved blob store id")
)

// Storage error kinds, scoped to a single call.
var (
	ErrCreateInstance  = errors.New("blob store instance creation failed")
	ErrUnknownStore    = errors.New("unknown blob store id")
	ErrStoreDisabled   = errors.New("blob store disabled")
	ErrRenameConflict  = errors.New("rename target layer already exists")
	ErrNoDefaultStore  = errors.New("no default blob store defined")
	ErrLayerResolution = errors.New("layer resolution failed")
)

// Backend sentinels.
var (
	ErrStoreClosed = errors.New("blob store closed")
	ErrLayerExists = errors.New("layer already exists")
	ErrNilListener = errors.New("listener is nil")
)

// ConfigurationError reports an invalid blob store configuration. It matches
// ErrConfiguration and its Kind.
type ConfigurationError struct {
	Kind    error
	StoreID string
	Detail  string
}

func (e *ConfigurationError) Error() string {
	msg := e.Kind.Error()
	if e.StoreID != "" {
		msg = fmt.Sprintf("%s: %q", msg, e.StoreID)
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration || target == e.Kind
}

// NewConfigurationError builds a ConfigurationError of the given kind.
func NewConfigurationError(kind error, storeID, detail string) error {
	return &ConfigurationError{Kind: kind, StoreID: storeID, Detail: detail}
}

// StorageError reports a failed storage operation. It matches ErrStorage and
// its Kind, and unwraps to the underlying cause.
type StorageError struct {
	Kind    error
	StoreID string
	Layer   string
	Err     error
}

func (e *StorageError) Error() string {
	msg := e.Kind.Error()
	if e.StoreID != "" {
		msg += fmt.Sprintf(" [store=%s]", e.StoreID)
	}
	if e.Layer != "" {
		msg += fmt.Sprintf(" [layer=%s]", e.Layer)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage || target == e.Kind
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err belongs to the configuration family.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsStorageError reports whether err belongs to the storage family.
func IsStorageError(err error) bool {
	return errors.Is(err, ErrStorage)
}
