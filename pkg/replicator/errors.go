package replicator

import (
	"errors"
	"fmt"
)

// ErrCredentialsMissing is returned by Backfill when the integration has no
// backfill credentials configured. It is never retried; the onboarding state
// machine exists to collect the credentials first.
var ErrCredentialsMissing = errors.New("backfill credentials missing")

// InvalidServiceError indicates a service name with no registered connector.
type InvalidServiceError struct {
	Name string
}

func (e *InvalidServiceError) Error() string {
	return fmt.Sprintf("no connector registered for service %q", e.Name)
}
