package invitecount

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRecordsJSONKeepsKeyOrder(t *testing.T) {
	t.Parallel()

	document := `{
  "3003": {"nickname": "Carol", "inviter": null, "inviter_name": null, "join_type": "主动", "join_time": null, "leave_type": null, "leave_time": null},
  "1001": {"nickname": "Alice", "inviter": "3003", "inviter_name": "Carol", "join_type": "邀请", "join_time": null, "leave_type": null, "leave_time": null},
  "20": {"nickname": "<b&b>", "inviter": null, "inviter_name": null, "join_type": null, "join_time": null, "leave_type": null, "leave_time": null}
}`

	var records Records
	if err := json.Unmarshal([]byte(document), &records); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if diff := cmp.Diff([]string{"3003", "1001", "20"}, recordIDs(records)); diff != "" {
		t.Fatalf("decoded order mismatch (-want +got):\n%s", diff)
	}
	if alice, _ := records.Get("1001"); alice.Inviter != "3003" || alice.JoinType != JoinTypeInvited {
		t.Fatalf("record 1001 = %+v", alice)
	}

	encoded, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var reread Records
	if err := json.Unmarshal(encoded, &reread); err != nil {
		t.Fatalf("unmarshal encoded failed: %v", err)
	}
	if diff := cmp.Diff(recordIDs(records), recordIDs(reread)); diff != "" {
		t.Fatalf("encoded order mismatch (-want +got):\n%s", diff)
	}
	if named, _ := reread.Get("20"); named.Nickname != "<b&b>" {
		t.Fatalf("nickname = %q, want <b&b>", named.Nickname)
	}
}

func TestRecordsJSONEdgeCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantLen int
		wantErr bool
	}{
		{name: "null is empty", input: `null`},
		{name: "empty object", input: `{}`},
		{name: "repeated key replaces", input: `{"1":{"nickname":"a"},"1":{"nickname":"b"}}`, wantLen: 1},
		{name: "array rejected", input: `[]`, wantErr: true},
		{name: "truncated rejected", input: `{"1":{"nickname":"a"}`, wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var records Records
			err := json.Unmarshal([]byte(testCase.input), &records)
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if records.Len() != testCase.wantLen {
				t.Fatalf("len = %d, want %d", records.Len(), testCase.wantLen)
			}
		})
	}
}

func TestLedgerRejoinKeepsFirstRecordedPosition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger, err := OpenLedger(ctx, newMemoryStore(nil), discardLogger())
	if err != nil {
		t.Fatalf("open ledger failed: %v", err)
	}

	ledger.RecordInvitedJoin(ctx, "3003", "2002", "Carol", "Bob", testNow)
	ledger.RecordSelfJoin(ctx, "1001", "Alice", testNow)
	ledger.RecordLeave(ctx, "3003", testNow)
	ledger.RecordInvitedJoin(ctx, "3003", "4004", "Carol", "Dan", testNow)
	ledger.EnsurePlaceholder(ctx, "9999", "9999")

	if diff := cmp.Diff([]string{"3003", "1001", "9999"}, recordIDs(ledger.Snapshot())); diff != "" {
		t.Fatalf("ledger order mismatch (-want +got):\n%s", diff)
	}
	if carol, _ := ledger.Get("3003"); carol.Inviter != "4004" || !carol.Leave.Present() {
		t.Fatalf("rejoined record = %+v, want fresh join by 4004", carol)
	}
}
