package domain

type Permit struct {
	ID              string        `json:"id"`
	CustomerID      string        `json:"customerId"`
	ContractorID    string        `json:"contractorId,omitempty"`
	ProjectName     string        `json:"projectName"`
	Address         string        `json:"address,omitempty"`
	Notes           string        `json:"notes,omitempty"`
	Status          PermitStatus  `json:"status"`
	InternalStage   InternalStage `json:"internalStage"`
	BillingStatus   BillingStatus `json:"billingStatus"`
	OpenedDate      *string       `json:"openedDate,omitempty" format:"date-time"`
	TargetIssueDate *string       `json:"targetIssueDate,omitempty" format:"date-time"`
	ClosedDate      *string       `json:"closedDate,omitempty" format:"date-time"`
	SentToBillingAt *string       `json:"sentToBillingAt,omitempty" format:"date-time"`
	CreatedAt       string        `json:"createdAt" format:"date-time"`
	UpdatedAt       string        `json:"updatedAt" format:"date-time"`
}

type Task struct {
	ID            string       `json:"id"`
	PermitID      string       `json:"permitId"`
	Name          string       `json:"name"`
	Description   string       `json:"description,omitempty"`
	Status        TaskStatus   `json:"status"`
	Priority      TaskPriority `json:"priority"`
	AssigneeID    *string      `json:"assigneeId,omitempty"`
	DueDate       *string      `json:"dueDate,omitempty" format:"date-time"`
	CompletedAt   *string      `json:"completedAt,omitempty" format:"date-time"`
	AutomationKey *string      `json:"automationKey,omitempty"`
	CreatedAt     string       `json:"createdAt" format:"date-time"`
	UpdatedAt     string       `json:"updatedAt" format:"date-time"`
}

type Document struct {
	ID               string           `json:"id"`
	PermitID         string           `json:"permitId"`
	FileName         string           `json:"fileName"`
	Category         DocumentCategory `json:"category"`
	VersionTag       string           `json:"versionTag"`
	ParentDocumentID *string          `json:"parentDocumentId,omitempty"`
	VersionGroupID   *string          `json:"versionGroupId,omitempty"`
	IsRequired       bool             `json:"isRequired"`
	IsVerified       bool             `json:"isVerified"`
	Status           DocumentStatus   `json:"status"`
	Notes            string           `json:"notes,omitempty"`
	StoragePath      string           `json:"storagePath"`
	SizeBytes        int64            `json:"sizeBytes"`
	UploadedBy       string           `json:"uploadedBy"`
	CreatedAt        string           `json:"createdAt" format:"date-time"`
	UpdatedAt        string           `json:"updatedAt" format:"date-time"`
}

// Activity is one immutable audit log entry.
type Activity struct {
	ID           int64          `json:"id"`
	PermitID     string         `json:"permitId"`
	ActorID      string         `json:"actorId"`
	ActivityType ActivityType   `json:"activityType"`
	EntityKind   string         `json:"entityKind"`
	EntityID     string         `json:"entityId,omitempty"`
	Description  string         `json:"description"`
	OldValue     *string        `json:"oldValue,omitempty"`
	NewValue     *string        `json:"newValue,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    string         `json:"createdAt" format:"date-time"`
}
