package mirror

import (
	"errors"
	"fmt"
)

var (
	ErrGatewayNotFound    = errors.New("gateway not found")
	ErrInvalidGateway     = errors.New("invalid gateway")
	ErrNoFieldsToUpdate   = errors.New("no fields to update")
	ErrUnknownKind        = errors.New("unknown sync kind")
	ErrSessionKeyRequired = errors.New("session key is required")
)

// ReconcileStorageError reports a local write failure after a successful
// fetch. The gateway itself was reachable.
type ReconcileStorageError struct {
	GatewayID string
	Kind      SyncKind
	Err       error
}

func (e *ReconcileStorageError) Error() string {
	return fmt.Sprintf("reconcile %s for gateway %s: %v", e.Kind, e.GatewayID, e.Err)
}

func (e *ReconcileStorageError) Unwrap() error {
	return e.Err
}
