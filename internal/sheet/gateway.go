package sheet

import (
	"context"
	"fmt"
)

// Gateway is the typed surface the Outbox Dispatcher and Reconciler depend
// on, mirroring forge.Gateway so handlers can treat either external store
// uniformly. Defined as an interface so both can be unit-tested against a
// fake broker.
type Gateway interface {
	CreateRecord(ctx context.Context, tableID string, fields map[string]any) (Record, error)
	GetRecord(ctx context.Context, tableID, recordID string) (Record, error)
	UpdateRecord(ctx context.Context, tableID, recordID string, fields map[string]any) (Record, error)
	SearchRecords(ctx context.Context, params SearchParams) ([]Record, error)
	FindRecordByField(ctx context.Context, tableID, field string, value any) (Record, bool, error)
	ListTables(ctx context.Context, appToken string) ([]Table, error)
	ResolveContactByEmail(ctx context.Context, email string) (Contact, bool, error)
	SendMessage(ctx context.Context, openID, message string) error
}

var _ Gateway = (*Client)(nil)

type createRecordParams struct {
	TableID string         `json:"tableId"`
	Fields  map[string]any `json:"fields"`
}

type getRecordParams struct {
	TableID  string `json:"tableId"`
	RecordID string `json:"recordId"`
}

type updateRecordParams struct {
	TableID  string         `json:"tableId"`
	RecordID string         `json:"recordId"`
	Fields   map[string]any `json:"fields"`
}

type searchRecordsParams struct {
	TableID string         `json:"tableId"`
	Since   string         `json:"since,omitempty"`
	Filter  map[string]any `json:"filter,omitempty"`
}

type listTablesParams struct {
	AppToken string `json:"appToken"`
}

type resolveContactParams struct {
	Email string `json:"email"`
}

type sendMessageParams struct {
	OpenID  string `json:"openId"`
	Message string `json:"message"`
}

// CreateRecord inserts a new row into the named table.
func (c *Client) CreateRecord(ctx context.Context, tableID string, fields map[string]any) (Record, error) {
	var record Record

	err := c.call(ctx, "createRecord", createRecordParams{TableID: tableID, Fields: fields}, &record)
	if err != nil {
		return Record{}, fmt.Errorf("sheet: create record in %s: %w", tableID, err)
	}

	return record, nil
}

// GetRecord fetches a single row by its record ID.
func (c *Client) GetRecord(ctx context.Context, tableID, recordID string) (Record, error) {
	var record Record

	err := c.call(ctx, "getRecord", getRecordParams{TableID: tableID, RecordID: recordID}, &record)
	if err != nil {
		return Record{}, fmt.Errorf("sheet: get record %s/%s: %w", tableID, recordID, err)
	}

	return record, nil
}

// UpdateRecord applies a partial field update to an existing row.
func (c *Client) UpdateRecord(ctx context.Context, tableID, recordID string, fields map[string]any) (Record, error) {
	var record Record

	params := updateRecordParams{TableID: tableID, RecordID: recordID, Fields: fields}

	err := c.call(ctx, "updateRecord", params, &record)
	if err != nil {
		return Record{}, fmt.Errorf("sheet: update record %s/%s: %w", tableID, recordID, err)
	}

	return record, nil
}

// SearchRecords returns rows matching params, optionally limited to those
// updated since params.Since (used by the Reconciler's pull-since-cursor
// poller).
func (c *Client) SearchRecords(ctx context.Context, params SearchParams) ([]Record, error) {
	rpcParams := searchRecordsParams{TableID: params.TableID, Filter: params.Filter}
	if !params.Since.IsZero() {
		rpcParams.Since = params.Since.UTC().Format(timeRFC3339)
	}

	var records []Record

	if err := c.call(ctx, "searchRecords", rpcParams, &records); err != nil {
		return nil, fmt.Errorf("sheet: search records in %s: %w", params.TableID, err)
	}

	return records, nil
}

// FindRecordByField searches a table for a row whose field column equals
// value, used by push handlers for idempotent crash-recovery lookup before
// creating a duplicate record.
func (c *Client) FindRecordByField(ctx context.Context, tableID, field string, value any) (Record, bool, error) {
	records, err := c.SearchRecords(ctx, SearchParams{TableID: tableID, Filter: map[string]any{field: value}})
	if err != nil {
		return Record{}, false, err
	}

	if len(records) == 0 {
		return Record{}, false, nil
	}

	return records[0], true, nil
}

// ListTables lists the tables visible under appToken.
func (c *Client) ListTables(ctx context.Context, appToken string) ([]Table, error) {
	var tables []Table

	if err := c.call(ctx, "listTables", listTablesParams{AppToken: appToken}, &tables); err != nil {
		return nil, fmt.Errorf("sheet: list tables for %s: %w", appToken, err)
	}

	return tables, nil
}

// ResolveContactByEmail looks up the spreadsheet vendor's user directory by
// email, satisfying identity.ContactLookup.
func (c *Client) ResolveContactByEmail(ctx context.Context, email string) (Contact, bool, error) {
	var contact Contact

	err := c.call(ctx, "resolveContact", resolveContactParams{Email: email}, &contact)
	if err != nil {
		if isNotFound(err) {
			return Contact{}, false, nil
		}

		return Contact{}, false, fmt.Errorf("sheet: resolve contact %s: %w", email, err)
	}

	return contact, true, nil
}

// SendMessage delivers an operator-visible message to a resolved sheet user,
// the transport behind the notifyMember outbox event kind (spec.md §4.4).
func (c *Client) SendMessage(ctx context.Context, openID, message string) error {
	err := c.call(ctx, "sendMessage", sendMessageParams{OpenID: openID, Message: message}, nil)
	if err != nil {
		return fmt.Errorf("sheet: send message to %s: %w", openID, err)
	}

	return nil
}

const timeRFC3339 = "2006-01-02T15:04:05Z07:00"

// FindOpenIDByEmail satisfies identity.ContactLookup, letting the Identity
// Resolver depend on the Sheet Gateway without importing this package's
// concrete types.
func (c *Client) FindOpenIDByEmail(ctx context.Context, email string) (string, bool, error) {
	contact, ok, err := c.ResolveContactByEmail(ctx, email)
	if err != nil || !ok {
		return "", ok, err
	}

	return contact.OpenID, true, nil
}
