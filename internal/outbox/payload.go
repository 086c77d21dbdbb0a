package outbox

import (
	"encoding/json"
	"fmt"

	"github.com/taskforge/sync/internal/store"
)

// encodePayload marshals a typed payload for EnqueueOutbox.
func encodePayload(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("outbox: encode payload: %w", err)
	}

	return b, nil
}

// decodePayload unmarshals a claimed OutboxEvent's payload into v.
func decodePayload(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("outbox: decode payload: %w", err)
	}

	return nil
}

// ForgeCreateIssuePayload is the JSON payload for store.KindForgeCreateIssue.
// Repo is carried explicitly because a Task has no forge repo of its own
// until a Mapping binds one.
type ForgeCreateIssuePayload struct {
	TaskID string `json:"taskId"`
	Repo   string `json:"repo"`
}

// ForgeUpdateIssuePayload is the JSON payload for store.KindForgeUpdateIssue.
type ForgeUpdateIssuePayload struct {
	TaskID string `json:"taskId"`
}

// ForgeCloseIssuePayload is the JSON payload for store.KindForgeCloseIssue.
type ForgeCloseIssuePayload struct {
	TaskID string `json:"taskId"`
}

// SheetCreateRecordPayload is the JSON payload for store.KindSheetCreateRecord.
type SheetCreateRecordPayload struct {
	TaskID string `json:"taskId"`
}

// SheetUpdateRecordPayload is the JSON payload for store.KindSheetUpdateRecord.
type SheetUpdateRecordPayload struct {
	TaskID string `json:"taskId"`
}

// ConvertForgeToSheetPayload is the JSON payload for
// store.KindConvertForgeToSheet (spec.md §4.4): read the forge issue,
// upsert a Task for it if none is mapped yet, and bind tableRef.
type ConvertForgeToSheetPayload struct {
	ForgeIssueRef store.ForgeIssueRef `json:"forgeIssueRef"`
	TargetTable   store.SheetTableRef `json:"tableRef"`
}

// ConvertSheetToForgePayload is the JSON payload for
// store.KindConvertSheetToForge (spec.md §4.4): read the sheet record,
// upsert a Task for it if none is mapped yet, and bind a forge issue in
// repo.
type ConvertSheetToForgePayload struct {
	SheetRecordRef store.SheetRecordRef `json:"sheetRecordRef"`
	Repo           string               `json:"repo"`
}

// NotifyMemberPayload is the JSON payload for store.KindNotifyMember.
type NotifyMemberPayload struct {
	MemberID string `json:"memberId"`
	Message  string `json:"message"`
}
