package settlement

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidEmployeeID    = errors.New("settlement: invalid employee id")
	ErrInvalidTerminationID = errors.New("settlement: invalid termination id")
	ErrNotFound             = errors.New("settlement: not found")
	ErrForbidden            = errors.New("settlement: forbidden")
	// ErrEmployeeMismatch は既存の精算と社員が一致しない場合に返却されます。
	ErrEmployeeMismatch = fmt.Errorf("%w: settlement belongs to another employee", ErrForbidden)
)
