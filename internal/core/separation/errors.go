package separation

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidID               = errors.New("separation: invalid id")
	ErrInvalidEmployeeID       = errors.New("separation: invalid employee id")
	ErrInvalidReason           = errors.New("separation: reason is required")
	ErrInvalidStatus           = errors.New("separation: invalid status")
	ErrTerminationDateRequired = errors.New("separation: termination date is required for approval")

	ErrForbidden = errors.New("separation: forbidden")
	// ErrSelfTermination は人事担当者が自分自身の解雇を起票しようとした場合に返却されます。
	ErrSelfTermination = fmt.Errorf("%w: self-termination must be submitted as a resignation", ErrForbidden)
	// ErrTerminationIneligible は評価点が解雇の根拠として不十分な場合に返却されます。
	ErrTerminationIneligible = fmt.Errorf("%w: performance appraisal does not justify termination", ErrForbidden)

	ErrNotFound          = errors.New("separation: not found")
	ErrAppraisalNotFound = errors.New("separation: appraisal not found")

	ErrConflict = errors.New("separation: conflict")
	// ErrActiveRequestExists は未確定の申請が既に存在する場合に返却されます。
	ErrActiveRequestExists = fmt.Errorf("%w: employee already has an active separation request", ErrConflict)
	// ErrTerminalStatus は承認済みの申請を変更しようとした場合に返却されます。
	ErrTerminalStatus = fmt.Errorf("%w: approved separation request cannot change status", ErrConflict)
	// ErrConcurrentUpdate は更新中に状態が変わっていた場合に返却されます。
	ErrConcurrentUpdate = fmt.Errorf("%w: separation request was modified concurrently", ErrConflict)
)
