package sheet

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeBrokerScript is a tiny shell broker: for each JSON-RPC request line it
// reads, it replies with one canned response keyed by the request's method.
// Good enough to exercise the framing and dispatch-by-id logic without a
// real vendor binary.
const fakeBrokerScript = `
while IFS= read -r line; do
  case "$line" in
    *'"method":"createRecord"'*)
      echo '{"id":1,"result":{"RecordID":"rec1","Fields":{"status":"To Do"}}}' ;;
    *'"method":"getRecord"'*)
      echo '{"id":2,"result":{"RecordID":"rec1","Fields":{"status":"Done"}}}' ;;
    *'"method":"resolveContact"'*)
      echo '{"id":3,"error":{"code":-30002,"message":"no contact"}}' ;;
    *)
      echo '{"id":0,"error":{"code":-30005,"message":"unknown method"}}' ;;
  esac
done
`

func newFakeClient(t *testing.T) *Client {
	t.Helper()

	if !testing.Short() {
		t.Skip("requires /bin/sh, only run in short mode")
	}

	client, err := NewClient("/bin/sh", AuthModeOAuth, "app-token", WithArgs("-c", fakeBrokerScript))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestCreateRecordAgainstFakeBroker(t *testing.T) {
	client := newFakeClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	record, err := client.CreateRecord(ctx, "tbl1", map[string]any{"status": "To Do"})
	if err != nil {
		t.Fatalf("CreateRecord returned error: %v", err)
	}

	if record.RecordID != "rec1" {
		t.Errorf("RecordID = %q, want rec1", record.RecordID)
	}
}

func TestGetRecordAgainstFakeBroker(t *testing.T) {
	client := newFakeClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	record, err := client.GetRecord(ctx, "tbl1", "rec1")
	if err != nil {
		t.Fatalf("GetRecord returned error: %v", err)
	}

	if record.Fields["status"] != "Done" {
		t.Errorf("Fields[status] = %v, want Done", record.Fields["status"])
	}
}

func TestResolveContactByEmailNotFoundIsNotAnError(t *testing.T) {
	client := newFakeClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, ok, err := client.ResolveContactByEmail(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("ResolveContactByEmail returned error: %v", err)
	}

	if ok {
		t.Errorf("expected ok=false for unresolved contact")
	}
}

func TestCallAfterCloseReturnsErrBrokerClosed(t *testing.T) {
	client := newFakeClient(t)

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err := client.GetRecord(context.Background(), "tbl1", "rec1")
	if !errors.Is(err, ErrBrokerClosed) {
		t.Errorf("expected ErrBrokerClosed, got %v", err)
	}
}
