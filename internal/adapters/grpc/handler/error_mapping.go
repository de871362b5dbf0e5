package handler

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ogurasousui/codex-offboarding/internal/core/audit"
	"github.com/ogurasousui/codex-offboarding/internal/core/clearance"
	"github.com/ogurasousui/codex-offboarding/internal/core/employee"
	"github.com/ogurasousui/codex-offboarding/internal/core/separation"
	"github.com/ogurasousui/codex-offboarding/internal/core/settlement"
)

func toStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, separation.ErrInvalidID),
		errors.Is(err, separation.ErrInvalidEmployeeID),
		errors.Is(err, separation.ErrInvalidReason),
		errors.Is(err, separation.ErrInvalidStatus),
		errors.Is(err, separation.ErrTerminationDateRequired),
		errors.Is(err, clearance.ErrInvalidID),
		errors.Is(err, clearance.ErrInvalidStatus),
		errors.Is(err, settlement.ErrInvalidEmployeeID),
		errors.Is(err, settlement.ErrInvalidTerminationID),
		errors.Is(err, employee.ErrInvalidID),
		errors.Is(err, audit.ErrInvalidSeparationID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, separation.ErrForbidden),
		errors.Is(err, clearance.ErrForbidden),
		errors.Is(err, settlement.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, clearance.ErrOutOfOrder):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, separation.ErrNotFound),
		errors.Is(err, separation.ErrAppraisalNotFound),
		errors.Is(err, clearance.ErrNotFound),
		errors.Is(err, settlement.ErrNotFound),
		errors.Is(err, employee.ErrEmployeeNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, separation.ErrActiveRequestExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, separation.ErrConflict), errors.Is(err, clearance.ErrConflict):
		return status.Error(codes.Aborted, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
