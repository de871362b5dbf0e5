package separation

import "time"

// Initiator は退職申請の起票者区分です。
type Initiator string

const (
	InitiatorEmployee Initiator = "EMPLOYEE"
	InitiatorHR       Initiator = "HR"
	InitiatorManager  Initiator = "MANAGER"
)

// Status は退職申請の状態です。
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusApproved    Status = "APPROVED"
	StatusRejected    Status = "REJECTED"
)

// Active は未確定の状態かどうかを返します。
func (s Status) Active() bool {
	return s == StatusPending || s == StatusUnderReview
}

// Valid は定義済みの状態かどうかを返します。
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusUnderReview, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

// Request は退職 (自己都合退職または解雇) の申請です。
type Request struct {
	ID               string
	EmployeeID       string
	Initiator        Initiator
	Reason           string
	EmployeeComments string
	HRComments       string
	TerminationDate  *time.Time
	Status           Status
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Resignation は社員本人による退職かどうかを返します。
func (r *Request) Resignation() bool {
	return r.Initiator == InitiatorEmployee
}

// Appraisal は直近の人事評価です。
type Appraisal struct {
	EmployeeID string
	Score      float64
	RecordedAt time.Time
}
