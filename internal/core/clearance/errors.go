package clearance

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidID     = errors.New("clearance: invalid checklist id")
	ErrInvalidStatus = errors.New("clearance: invalid item status")

	ErrNotFound = errors.New("clearance: not found")
	// ErrDepartmentNotFound はチェックリストに存在しない部門が指定された場合に返却されます。
	ErrDepartmentNotFound = fmt.Errorf("%w: department", ErrNotFound)

	ErrForbidden = errors.New("clearance: forbidden")
	// ErrOutOfOrder は LINE_MANAGER → FINANCE → HR の順序に反する更新で返却されます。
	ErrOutOfOrder = errors.New("clearance: out of order")

	ErrConflict = errors.New("clearance: conflict")
	// ErrConcurrentUpdate は同一項目が同時に更新された場合に返却されます。
	ErrConcurrentUpdate = fmt.Errorf("%w: item was modified concurrently", ErrConflict)
	// ErrChecklistCompleted は完了済みのチェックリストを更新しようとした場合に返却されます。
	ErrChecklistCompleted = fmt.Errorf("%w: checklist already completed", ErrConflict)
	// ErrSeparationNotApproved は未承認の退職申請にチェックリストを作成しようとした場合に返却されます。
	ErrSeparationNotApproved = fmt.Errorf("%w: separation request is not approved", ErrConflict)
)
