package domain

import "fmt"

// Closed enumerations. Every switch over these types lists each member
// explicitly so that adding a value surfaces every place that must handle it.

type PermitStatus string

const (
	StatusNew             PermitStatus = "New"
	StatusSubmitted       PermitStatus = "Submitted"
	StatusInReview        PermitStatus = "InReview"
	StatusRevisionsNeeded PermitStatus = "RevisionsNeeded"
	StatusApproved        PermitStatus = "Approved"
	StatusIssued          PermitStatus = "Issued"
	StatusInspections     PermitStatus = "Inspections"
	StatusFinaledClosed   PermitStatus = "FinaledClosed"
	StatusCanceled        PermitStatus = "Canceled"
)

var PermitStatuses = []PermitStatus{
	StatusNew, StatusSubmitted, StatusInReview, StatusRevisionsNeeded, StatusApproved,
	StatusIssued, StatusInspections, StatusFinaledClosed, StatusCanceled,
}

func (s PermitStatus) IsValid() bool {
	switch s {
	case StatusNew, StatusSubmitted, StatusInReview, StatusRevisionsNeeded, StatusApproved,
		StatusIssued, StatusInspections, StatusFinaledClosed, StatusCanceled:
		return true
	}
	return false
}

// IsTerminal reports whether no further workflow is expected.
func (s PermitStatus) IsTerminal() bool {
	switch s {
	case StatusFinaledClosed, StatusCanceled:
		return true
	case StatusNew, StatusSubmitted, StatusInReview, StatusRevisionsNeeded, StatusApproved,
		StatusIssued, StatusInspections:
		return false
	}
	return false
}

// IsCanonicalTransition reports whether from -> to is an edge of the
// documented workflow graph. The lifecycle manager only enforces it in
// strict mode.
func IsCanonicalTransition(from, to PermitStatus) bool {
	if to == StatusCanceled {
		return !from.IsTerminal()
	}
	switch from {
	case StatusNew:
		return to == StatusSubmitted
	case StatusSubmitted:
		return to == StatusInReview
	case StatusInReview:
		return to == StatusApproved || to == StatusRevisionsNeeded
	case StatusRevisionsNeeded:
		return to == StatusInReview
	case StatusApproved:
		return to == StatusIssued
	case StatusIssued:
		return to == StatusInspections
	case StatusInspections:
		return to == StatusFinaledClosed
	case StatusFinaledClosed, StatusCanceled:
		return false
	}
	return false
}

type InternalStage string

const (
	StageIntake               InternalStage = "Intake"
	StageDrafting             InternalStage = "Drafting"
	StageQualityReview        InternalStage = "QualityReview"
	StageReadyToSubmit        InternalStage = "ReadyToSubmit"
	StageAwaitingAgency       InternalStage = "AwaitingAgency"
	StageRespondingToComments InternalStage = "RespondingToComments"
	StageOnHold               InternalStage = "OnHold"
	StageComplete             InternalStage = "Complete"
)

var InternalStages = []InternalStage{
	StageIntake, StageDrafting, StageQualityReview, StageReadyToSubmit,
	StageAwaitingAgency, StageRespondingToComments, StageOnHold, StageComplete,
}

func (s InternalStage) IsValid() bool {
	switch s {
	case StageIntake, StageDrafting, StageQualityReview, StageReadyToSubmit,
		StageAwaitingAgency, StageRespondingToComments, StageOnHold, StageComplete:
		return true
	}
	return false
}

type BillingStatus string

const (
	BillingNotSent       BillingStatus = "NotSent"
	BillingSentToBilling BillingStatus = "SentToBilling"
	BillingBilled        BillingStatus = "Billed"
	BillingPaid          BillingStatus = "Paid"
)

var BillingStatuses = []BillingStatus{BillingNotSent, BillingSentToBilling, BillingBilled, BillingPaid}

func (s BillingStatus) IsValid() bool {
	switch s {
	case BillingNotSent, BillingSentToBilling, BillingBilled, BillingPaid:
		return true
	}
	return false
}

type TaskStatus string

const (
	TaskNotStarted TaskStatus = "NotStarted"
	TaskInProgress TaskStatus = "InProgress"
	TaskWaiting    TaskStatus = "Waiting"
	TaskCompleted  TaskStatus = "Completed"
)

func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskNotStarted, TaskInProgress, TaskWaiting, TaskCompleted:
		return true
	}
	return false
}

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

func (p TaskPriority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type DocumentCategory string

const (
	CategoryPlans          DocumentCategory = "Plans"
	CategoryApplication    DocumentCategory = "Application"
	CategoryCalculations   DocumentCategory = "Calculations"
	CategoryCorrespondence DocumentCategory = "Correspondence"
	CategoryInspection     DocumentCategory = "Inspection"
	CategoryPermit         DocumentCategory = "Permit"
	CategoryInvoice        DocumentCategory = "Invoice"
	CategoryPhoto          DocumentCategory = "Photo"
	CategoryOther          DocumentCategory = "Other"
)

func (c DocumentCategory) IsValid() bool {
	switch c {
	case CategoryPlans, CategoryApplication, CategoryCalculations, CategoryCorrespondence,
		CategoryInspection, CategoryPermit, CategoryInvoice, CategoryPhoto, CategoryOther:
		return true
	}
	return false
}

type DocumentStatus string

const (
	DocumentPending  DocumentStatus = "Pending"
	DocumentVerified DocumentStatus = "Verified"
	DocumentRejected DocumentStatus = "Rejected"
)

func (s DocumentStatus) IsValid() bool {
	switch s {
	case DocumentPending, DocumentVerified, DocumentRejected:
		return true
	}
	return false
}

type ActivityType string

const (
	ActivityStatusChange        ActivityType = "StatusChange"
	ActivityBillingStatusChange ActivityType = "BillingStatusChange"
	ActivityTaskCreated         ActivityType = "TaskCreated"
	ActivityTaskCompleted       ActivityType = "TaskCompleted"
	ActivityDocumentUploaded    ActivityType = "DocumentUploaded"
	ActivityDocumentVerified    ActivityType = "DocumentVerified"
	ActivityFieldUpdated        ActivityType = "FieldUpdated"
)

func (t ActivityType) IsValid() bool {
	switch t {
	case ActivityStatusChange, ActivityBillingStatusChange, ActivityTaskCreated, ActivityTaskCompleted,
		ActivityDocumentUploaded, ActivityDocumentVerified, ActivityFieldUpdated:
		return true
	}
	return false
}

// VersionTag renders the n-th revision label of a document bucket.
func VersionTag(n int) string {
	return fmt.Sprintf("v%d", n)
}
