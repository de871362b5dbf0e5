package settlement

import "time"

// Status は精算レコードの状態です。
type Status string

const (
	StatusInitiated Status = "INITIATED"
	StatusQueued    Status = "QUEUED"
	StatusPartial   Status = "PARTIAL"
)

// Step は精算処理のステップ名です。
type Step string

const (
	StepEmployeeLookup      Step = "employee_lookup"
	StepLeaveEncashment     Step = "leave_encashment"
	StepBenefitsTermination Step = "benefits_termination"
)

// ComponentStatus は精算構成要素ごとの結果です。
type ComponentStatus string

const (
	ComponentComputed ComponentStatus = "computed"
	ComponentReused   ComponentStatus = "reused"
	ComponentPending  ComponentStatus = "pending"
	ComponentError    ComponentStatus = "error"
)

// StepError はステップ単位の失敗です。
type StepError struct {
	Step  Step   `json:"step"`
	Error string `json:"error"`
}

// LeaveBalance は休暇種別ごとの未消化日数です。
type LeaveBalance struct {
	LeaveType  string  `json:"leave_type"`
	UnusedDays float64 `json:"unused_days"`
}

// BenefitRecord は社員と退職時給付の紐付けです。
type BenefitRecord struct {
	ID            string    `json:"id"`
	EmployeeID    string    `json:"employee_id"`
	TerminationID string    `json:"termination_id"`
	BenefitID     string    `json:"benefit_id"`
	BenefitName   string    `json:"benefit_name"`
	CreatedAt     time.Time `json:"created_at"`
}

// LeaveEncashment は未消化休暇の買取額です。
type LeaveEncashment struct {
	Status     ComponentStatus `json:"status"`
	UnusedDays float64         `json:"unused_days"`
	DailyRate  float64         `json:"daily_rate"`
	Amount     float64         `json:"amount"`
	Balances   []LeaveBalance  `json:"balances,omitempty"`
	Note       string          `json:"note,omitempty"`
}

// BenefitsTermination は退職時給付の確定結果です。
type BenefitsTermination struct {
	Status  ComponentStatus `json:"status"`
	Records []BenefitRecord `json:"records,omitempty"`
	Note    string          `json:"note,omitempty"`
}

// Placeholder は将来連携予定の構成要素です。
type Placeholder struct {
	Status ComponentStatus `json:"status"`
	Note   string          `json:"note,omitempty"`
}

// Components は精算の構成要素一式です。
type Components struct {
	LeaveEncashment     LeaveEncashment     `json:"leave_encashment"`
	BenefitsTermination BenefitsTermination `json:"benefits_termination"`
	FinalPay            Placeholder         `json:"final_pay"`
	Deductions          Placeholder         `json:"deductions"`
	Severance           Placeholder         `json:"severance"`
}

// Record は退職申請に紐づく最終精算です。termination_id ごとに 1 件のみ存在します。
type Record struct {
	ID            string
	TerminationID string
	EmployeeID    string
	Status        Status
	Components    Components
	Errors        []StepError
	InitiatedAt   time.Time
	CompletedAt   *time.Time
}

// Finished は各ステップの結果が保存済みかを返します。
func (r *Record) Finished() bool {
	return r.Status != StatusInitiated || r.CompletedAt != nil
}

// Outcome は精算起動の結果です。AlreadyTriggered が true の場合 Record は既存のものです。
// Resumed は保存されずに残っていた claim を引き継いで再計算したことを示します。
type Outcome struct {
	Record           *Record
	AlreadyTriggered bool
	Resumed          bool
}
