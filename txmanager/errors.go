package txmanager

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrNotInitialized = errors.New("txmanager: not initialized")
	// ErrNonceTooLow is returned by Submit when the node already holds a transaction at the
	// assigned nonce. The counter has been resynced and the request can be retried.
	ErrNonceTooLow = errors.New("txmanager: nonce too low")

	nonceTooLowErrorRegex  = regexp.MustCompile(`(?i)(nonce.*too low|same nonce|already been used|NONCE_EXPIRED|OldNonce|invalid transaction nonce)`)
	alreadyKnownErrorRegex = regexp.MustCompile(`(?i)(already known|known transaction|AlreadyKnown|already imported|already in mempool)`)
	underpricedErrorRegex  = regexp.MustCompile(`(?i)(replacement transaction underpriced|transaction underpriced|fee too low)`)
)

// ExecutionRevertError is returned when the transaction reverts during gas estimation.
type ExecutionRevertError struct {
	Err error
}

func (e *ExecutionRevertError) Error() string {
	return fmt.Sprintf("execution reverted: %v", e.Err)
}

func (e *ExecutionRevertError) Unwrap() error {
	return e.Err
}

func IsExecutionRevertError(err error) bool {
	var revertErr *ExecutionRevertError
	return errors.As(err, &revertErr)
}

func isNonceTooLow(err error) bool {
	return err != nil && nonceTooLowErrorRegex.MatchString(err.Error())
}

func isAlreadyKnown(err error) bool {
	return err != nil && alreadyKnownErrorRegex.MatchString(err.Error())
}

func isUnderpriced(err error) bool {
	return err != nil && underpricedErrorRegex.MatchString(err.Error())
}
