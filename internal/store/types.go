// Package store provides the durable, transactional record of entities,
// mappings, outbox events, reconciliation cursors, and the audit log. It is
// the sole writable shared resource in the process: every mutation any other
// component makes runs through a Store transaction.
package store

import (
	"time"
)

// MemberRole is the set of roles a Member may hold.
type MemberRole string

// Member roles.
const (
	RoleAdmin     MemberRole = "admin"
	RoleManager   MemberRole = "manager"
	RoleDeveloper MemberRole = "developer"
	RoleDesigner  MemberRole = "designer"
	RoleQA        MemberRole = "qa"
	RoleMember    MemberRole = "member"
)

// MemberStatus tracks whether a Member is usable for new assignments.
type MemberStatus string

// Member statuses.
const (
	MemberActive   MemberStatus = "active"
	MemberInactive MemberStatus = "inactive"
)

// TaskStatus is the internal status lattice shared by both external stores.
// The Field Mapper (internal/mapper) is the single source of truth for how
// these map onto forge and sheet representations.
type TaskStatus string

// Task statuses, the closed status lattice.
const (
	StatusToDo       TaskStatus = "ToDo"
	StatusInProgress TaskStatus = "InProgress"
	StatusDone       TaskStatus = "Done"
	StatusCancelled  TaskStatus = "Cancelled"
)

// TaskPriority is the set of priorities a Task may carry.
type TaskPriority string

// Task priorities.
const (
	PriorityCritical TaskPriority = "critical"
	PriorityHigh     TaskPriority = "high"
	PriorityMedium   TaskPriority = "medium"
	PriorityLow      TaskPriority = "low"
)

// TaskSource records which side of the sync originated a Task.
type TaskSource string

// Task sources.
const (
	SourceIntent    TaskSource = "intent"
	SourceForgePull TaskSource = "forgePull"
	SourceSheetPull TaskSource = "sheetPull"
)

// SyncStatus describes how well a Mapping's external bindings agree with the
// local Task.
type SyncStatus string

// Sync statuses.
const (
	SyncSynced   SyncStatus = "synced"
	SyncPending  SyncStatus = "pending"
	SyncConflict SyncStatus = "conflict"
	SyncError    SyncStatus = "error"
)

// OutboxEventKind enumerates the durable side-effects the Dispatcher knows
// how to perform. Adding a kind is a localized change: a new constant, a new
// payload type, and a new case in the dispatcher's handler table.
type OutboxEventKind string

// Outbox event kinds.
const (
	KindForgeCreateIssue   OutboxEventKind = "forgeCreateIssue"
	KindForgeUpdateIssue   OutboxEventKind = "forgeUpdateIssue"
	KindForgeCloseIssue    OutboxEventKind = "forgeCloseIssue"
	KindSheetCreateRecord  OutboxEventKind = "sheetCreateRecord"
	KindSheetUpdateRecord  OutboxEventKind = "sheetUpdateRecord"
	KindConvertForgeToSheet OutboxEventKind = "convertForgeToSheet"
	KindConvertSheetToForge OutboxEventKind = "convertSheetToForge"
	KindNotifyMember        OutboxEventKind = "notifyMember"
)

// OutboxEventStatus is the lifecycle of a durable outbox event.
type OutboxEventStatus string

// Outbox event statuses.
const (
	OutboxPending    OutboxEventStatus = "pending"
	OutboxProcessing OutboxEventStatus = "processing"
	OutboxSent       OutboxEventStatus = "sent"
	OutboxFailed     OutboxEventStatus = "failed"
	OutboxDead       OutboxEventStatus = "dead"
)

// DefaultMaxAttempts is the default retry budget for an OutboxEvent before
// it is dead-lettered.
const DefaultMaxAttempts = 5

// ForgeIssueRef identifies an issue in the forge (the hosted code-forge's
// issue tracker). Immutable once set on a Mapping.
type ForgeIssueRef struct {
	Repo   string // "owner/repo"
	Number int
}

// SheetRecordRef identifies a row in the sheet (the hosted spreadsheet
// database). Immutable once set on a Mapping.
type SheetRecordRef struct {
	AppToken string
	TableID  string
	RecordID string
}

// SheetTableRef names a known spreadsheet table without pinning a specific
// record — used by Task.TargetTable and by conversion requests.
type SheetTableRef struct {
	AppToken string
	TableID  string
}

// Member is the canonical identity record.
type Member struct {
	MemberID         string
	Email            string
	ForgeUsername    string
	SheetOpenID      string
	Role             MemberRole
	Status           MemberStatus
	TableAssignments []SheetTableRef
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Task is the local record of a work item.
type Task struct {
	TaskID           string
	Title            string
	Body             string
	Status           TaskStatus
	Priority         TaskPriority
	Source           TaskSource
	AssigneeMemberID string // empty means unassigned
	Labels           []string
	TargetTable      *SheetTableRef
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Mapping is the bridge between a Task and its external bindings.
type Mapping struct {
	MappingID      string
	TaskID         string
	ForgeRef       *ForgeIssueRef
	SheetRef       *SheetRecordRef
	SyncStatus     SyncStatus
	LastConflictAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SheetTableRegistryEntry describes a known spreadsheet table.
type SheetTableRegistryEntry struct {
	AppToken     string
	TableID      string
	DisplayName  string
	FieldNameMap map[string]string // internal name -> external column name
	LabelColumns map[string]string // internal label -> external column name (optional)
	IsDefault    bool
}

// OutboxEvent is a durable intent to perform an external side-effect.
type OutboxEvent struct {
	EventID     string
	Kind        OutboxEventKind
	Payload     []byte // JSON-encoded, shape depends on Kind
	Status      OutboxEventStatus
	Attempts    int
	MaxAttempts int
	LastError   string
	NotBefore   time.Time
	TaskID      string // denormalized for the per-task serialization predicate
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SyncCursor is a per-source polling watermark.
type SyncCursor struct {
	Source string // "forge" or "sheet"
	Value  string // RFC3339 timestamp or opaque continuation token
}

// AuditDirection records which way an audited action flowed.
type AuditDirection string

// Audit directions.
const (
	DirectionOutbound AuditDirection = "outbound" // local -> external
	DirectionInbound  AuditDirection = "inbound"  // external -> local
	DirectionInternal AuditDirection = "internal" // no external effect
)

// AuditEntry is an append-only record of a sync-relevant action.
type AuditEntry struct {
	EntryID   string
	Direction AuditDirection
	Subject   string // "task", "member", "mapping", "outbox"
	SubjectID string
	Status    string
	Message   string
	CreatedAt time.Time
}
