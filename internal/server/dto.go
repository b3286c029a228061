package server

import "permitflow/internal/domain"

// Request payloads

type CreatePermitRequest struct {
	ID              string  `json:"id,omitempty"`
	CustomerID      string  `json:"customerId"`
	ContractorID    string  `json:"contractorId,omitempty"`
	ProjectName     string  `json:"projectName"`
	Address         string  `json:"address,omitempty"`
	Notes           string  `json:"notes,omitempty"`
	OpenedDate      *string `json:"openedDate,omitempty" format:"date-time"`
	TargetIssueDate *string `json:"targetIssueDate,omitempty" format:"date-time"`
}

// UpdatePermitRequest is a partial update. A date sent as null clears it.
type UpdatePermitRequest struct {
	ProjectName     *string `json:"projectName,omitempty"`
	Address         *string `json:"address,omitempty"`
	Notes           *string `json:"notes,omitempty"`
	OpenedDate      *string `json:"openedDate,omitempty" format:"date-time" nullable:"true"`
	TargetIssueDate *string `json:"targetIssueDate,omitempty" format:"date-time" nullable:"true"`
	ClosedDate      *string `json:"closedDate,omitempty" format:"date-time" nullable:"true"`
}

type SetStatusRequest struct {
	Status        domain.PermitStatus   `json:"status" enum:"New,Submitted,InReview,RevisionsNeeded,Approved,Issued,Inspections,FinaledClosed,Canceled"`
	InternalStage *domain.InternalStage `json:"internalStage,omitempty" enum:"Intake,Drafting,QualityReview,ReadyToSubmit,AwaitingAgency,RespondingToComments,OnHold,Complete"`
	Note          string                `json:"note,omitempty"`
}

type SetStageRequest struct {
	InternalStage domain.InternalStage `json:"internalStage" enum:"Intake,Drafting,QualityReview,ReadyToSubmit,AwaitingAgency,RespondingToComments,OnHold,Complete"`
}

type SetBillingRequest struct {
	BillingStatus domain.BillingStatus `json:"billingStatus" enum:"NotSent,SentToBilling,Billed,Paid"`
	Note          string               `json:"note,omitempty"`
}

type CreateTaskRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Status      domain.TaskStatus   `json:"status,omitempty" enum:"NotStarted,InProgress,Waiting,Completed"`
	Priority    domain.TaskPriority `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	AssigneeID  string              `json:"assigneeId,omitempty"`
	DueDate     *string             `json:"dueDate,omitempty" format:"date-time"`
}

// UpdateTaskRequest is a partial update. An empty assigneeId unassigns and
// a null dueDate clears the due date.
type UpdateTaskRequest struct {
	Name        *string              `json:"name,omitempty"`
	Description *string              `json:"description,omitempty"`
	Status      *domain.TaskStatus   `json:"status,omitempty" enum:"NotStarted,InProgress,Waiting,Completed"`
	Priority    *domain.TaskPriority `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	AssigneeID  *string              `json:"assigneeId,omitempty"`
	DueDate     *string              `json:"dueDate,omitempty" format:"date-time" nullable:"true"`
}

type VerifyDocumentRequest struct {
	IsVerified bool    `json:"isVerified"`
	Rejected   bool    `json:"rejected,omitempty" doc:"Mark an unverified document as Rejected"`
	Notes      *string `json:"notes,omitempty"`
}

// Response payloads

type PermitDetailResponse struct {
	domain.Permit
	Tasks     []domain.Task     `json:"tasks"`
	Documents []domain.Document `json:"documents"`
}

type ActivityFeedResponse struct {
	Items      []domain.Activity `json:"items"`
	NextCursor int64             `json:"nextCursor"`
}

type DeletedResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}
