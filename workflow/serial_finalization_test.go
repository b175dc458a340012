package workflow_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mmdatafocus/serial_tracking/models"
	"github.com/mmdatafocus/serial_tracking/workflow"
	"gorm.io/gorm"
)

func TestValidateIssueLock(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	serials := generate(t, db, newReceipt(1, "RCV-1", "3"))

	complete := newIssue(1, models.IssueKindPermanent, "2")
	attach(t, db, complete.Ref, serials[0].ID, serials[1].ID)

	short := newIssue(2, models.IssueKindPermanent, "2")
	attach(t, db, short.Ref, serials[2].ID)

	fractional := newIssue(3, models.IssueKindPermanent, "1.5")
	fractional.Item = &models.ItemRef{Id: 10, Code: "ITM-10", Name: "Angle grinder", LotTracked: true}

	untracked := newIssue(4, models.IssueKindPermanent, "0.25")
	untracked.Item = untrackedItem

	tests := []struct {
		name     string
		lines    []models.IssueDocument
		wantOk   bool
		contains []string
	}{
		{"complete", []models.IssueDocument{complete}, true, nil},
		{"untracked lines are ignored", []models.IssueDocument{complete, untracked}, true, nil},
		{"count mismatch", []models.IssueDocument{short}, false, []string{"2 serials must be selected", "currently 1"}},
		{"fractional quantity", []models.IssueDocument{fractional}, false, []string{"Angle grinder", "whole number"}},
		{"messages accumulate", []models.IssueDocument{short, complete, fractional}, false, []string{"currently 1", "whole number"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ok, messages, err := workflow.ValidateIssueLock(ctx, db, tc.lines)
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if ok != tc.wantOk {
				t.Fatalf("ok = %v, want %v (messages %v)", ok, tc.wantOk, messages)
			}
			joined := strings.Join(messages, "\n")
			for _, want := range tc.contains {
				if !strings.Contains(joined, want) {
					t.Fatalf("messages %q do not mention %q", joined, want)
				}
			}
			if tc.name == "messages accumulate" && len(messages) != 2 {
				t.Fatalf("expected one message per failing line, got %v", messages)
			}
		})
	}
}

func TestLockIssueDocumentFailsValidationAndStaysUnlocked(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	serials := generate(t, db, newReceipt(1, "RCV-1", "2"))
	issue := newIssue(1, models.IssueKindPermanent, "2")

	attach(t, db, issue.Ref, serials[0].ID)
	if err := workflow.SyncIssueSerials(ctx, db, issue, nil, tester); err != nil {
		t.Fatalf("sync: %v", err)
	}

	committed := false
	err := workflow.LockIssueDocument(ctx, db, []models.IssueDocument{issue}, tester, func(tx *gorm.DB) error {
		committed = true
		return nil
	})
	var validationErr *models.SerialLockValidationError
	if !errors.As(err, &validationErr) || len(validationErr.Messages) != 1 {
		t.Fatalf("expected SerialLockValidationError with one message, got %v", err)
	}
	if committed {
		t.Fatalf("document lock must not be committed when validation fails")
	}
	if got := reload(t, db, serials[0].ID); got.CurrentStatus != models.SerialStatusReserved {
		t.Fatalf("serial must stay reserved, got %s", got.CurrentStatus)
	}
}

func TestLockIssueDocumentRollsBackWhenCommitFails(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	serials := generate(t, db, newReceipt(1, "RCV-1", "1"))
	issue := newIssue(1, models.IssueKindPermanent, "1")
	if err := workflow.AssignIssueSerials(ctx, db, issue, ids(serials), tester); err != nil {
		t.Fatalf("assign: %v", err)
	}

	lockFailed := errors.New("document changed by another user")
	err := workflow.LockIssueDocument(ctx, db, []models.IssueDocument{issue}, tester, func(tx *gorm.DB) error {
		return lockFailed
	})
	if !errors.Is(err, lockFailed) {
		t.Fatalf("expected the commit error back, got %v", err)
	}
	if got := reload(t, db, serials[0].ID); got.CurrentStatus != models.SerialStatusReserved {
		t.Fatalf("serial must stay reserved after a failed lock, got %s", got.CurrentStatus)
	}
}

func TestFinalizeConsumptionDocument(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	serials := generate(t, db, newReceipt(1, "RCV-1", "2"))
	issue := newIssue(1, models.IssueKindConsumption, "2")
	if err := workflow.AssignIssueSerials(ctx, db, issue, ids(serials), tester); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if err := workflow.FinalizeIssueSerials(ctx, db, issue, tester); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	for _, s := range serials {
		got := reload(t, db, s.ID)
		if got.CurrentStatus != models.SerialStatusConsumed || !got.HeldBy(issue.Ref) {
			t.Fatalf("%s: expected CONSUMED by the issue, got %s", got.SerialCode, got.CurrentStatus)
		}
		if got.CurrentWarehouseId != nil || got.CurrentWarehouseCode != "" {
			t.Fatalf("%s: warehouse must be cleared", got.SerialCode)
		}
		if got.CurrentCompanyUnitCode != "MAINT" {
			t.Fatalf("%s: expected department unit MAINT, got %q", got.SerialCode, got.CurrentCompanyUnitCode)
		}

		var consumed []*models.ItemSerialHistory
		for _, e := range history(t, db, s.ID) {
			if e.EventType == models.SerialEventConsumed {
				consumed = append(consumed, e)
			}
		}
		if len(consumed) != 1 || consumed[0].FromStatus != models.SerialStatusReserved {
			t.Fatalf("%s: expected exactly one CONSUMED entry from RESERVED, got %d", got.SerialCode, len(consumed))
		}
		if consumed[0].FromWarehouseCode != "WH-A" || consumed[0].ToWarehouseCode != "" {
			t.Fatalf("%s: unexpected locations in CONSUMED entry: %+v", got.SerialCode, consumed[0])
		}
		assertChain(t, db, s.ID)
	}

	// retrying after success is harmless
	if err := workflow.FinalizeIssueSerials(ctx, db, issue, tester); err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if n := countHistory(t, db, models.SerialEventConsumed); n != 2 {
		t.Fatalf("retry must not add history, got %d CONSUMED entries", n)
	}
}

func TestFinalizeWithoutDepartmentUnitClearsUnit(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	serials := generate(t, db, newReceipt(1, "RCV-1", "1"))
	issue := newIssue(1, models.IssueKindConsignment, "1")
	if err := workflow.AssignIssueSerials(ctx, db, issue, ids(serials), tester); err != nil {
		t.Fatalf("assign: %v", err)
	}

	issue.DepartmentUnit = nil
	if err := workflow.FinalizeIssueSerials(ctx, db, issue, tester); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	got := reload(t, db, serials[0].ID)
	if got.CurrentStatus != models.SerialStatusIssued {
		t.Fatalf("consignment issues end ISSUED, got %s", got.CurrentStatus)
	}
	if got.CurrentCompanyUnitId != nil || got.CurrentCompanyUnitCode != "" {
		t.Fatalf("unit must be cleared without a department unit")
	}
}

func TestFinalizeIssueLinesRefusesSerialHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	serials := generate(t, db, newReceipt(1, "RCV-1", "2"))

	holder := newIssue(1, models.IssueKindPermanent, "1")
	if err := workflow.AssignIssueSerials(ctx, db, holder, ids(serials[:1]), tester); err != nil {
		t.Fatalf("assign holder: %v", err)
	}

	// the link table was edited behind the engine's back
	intruder := newIssue(2, models.IssueKindPermanent, "2")
	attach(t, db, intruder.Ref, serials[0].ID, serials[1].ID)

	err := workflow.FinalizeIssueLines(ctx, db, []models.IssueDocument{intruder}, tester)
	var stateErr *models.SerialStateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected SerialStateError, got %v", err)
	}
	if got := reload(t, db, serials[1].ID); got.CurrentStatus != models.SerialStatusAvailable {
		t.Fatalf("nothing may be finalized when one serial fails, got %s", got.CurrentStatus)
	}
}

func TestFinalizeIssueLinesSkipsUntrackedLines(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	serials := generate(t, db, newReceipt(1, "RCV-1", "1"))

	docRef := models.DocumentRef{CompanyId: testCompanyId, Type: "issue_permanent", Id: 3, Code: "ISS-3"}
	tracked := newIssue(3, models.IssueKindPermanent, "1")
	tracked.Ref = docRef
	tracked.Ref.LineId = 1
	plain := newIssue(3, models.IssueKindPermanent, "12.5")
	plain.Ref = docRef
	plain.Ref.LineId = 2
	plain.Item = untrackedItem

	if err := workflow.AssignIssueSerials(ctx, db, tracked, ids(serials), tester); err != nil {
		t.Fatalf("assign: %v", err)
	}
	lines := []models.IssueDocument{tracked, plain}
	if err := workflow.LockIssueDocument(ctx, db, lines, tester, nil); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if got := reload(t, db, serials[0].ID); got.CurrentStatus != models.SerialStatusIssued {
		t.Fatalf("expected ISSUED, got %s", got.CurrentStatus)
	}
}

// Receipt of 3 units, one issue takes all of them, the issue is locked.
func TestGenerateReserveIssueScenario(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	receipt := newReceipt(1, "", "3")
	serials := generate(t, db, receipt)
	if len(serials) != 3 || serials[0].SerialCode != "SER-0001" || serials[2].SerialCode != "SER-0003" {
		t.Fatalf("unexpected generated serials")
	}

	issue := newIssue(1, models.IssueKindPermanent, "3")
	attach(t, db, issue.Ref, ids(serials)...)
	if err := workflow.SyncIssueSerials(ctx, db, issue, nil, tester); err != nil {
		t.Fatalf("sync: %v", err)
	}
	for _, s := range serials {
		if got := reload(t, db, s.ID); got.CurrentStatus != models.SerialStatusReserved || !got.HeldBy(issue.Ref) {
			t.Fatalf("%s not reserved by the issue", got.SerialCode)
		}
	}

	locked := false
	err := workflow.LockIssueDocument(ctx, db, []models.IssueDocument{issue}, tester, func(tx *gorm.DB) error {
		locked = true
		return nil
	})
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !locked {
		t.Fatalf("lock commit was not called")
	}

	for _, s := range serials {
		got := reload(t, db, s.ID)
		if got.CurrentStatus != models.SerialStatusIssued || got.CurrentWarehouseId != nil {
			t.Fatalf("%s: expected ISSUED without warehouse, got %s", got.SerialCode, got.CurrentStatus)
		}
		assertChain(t, db, s.ID)
	}

	counts := map[models.SerialEventType]int64{
		models.SerialEventCreated:  countHistory(t, db, models.SerialEventCreated),
		models.SerialEventReserved: countHistory(t, db, models.SerialEventReserved),
		models.SerialEventIssued:   countHistory(t, db, models.SerialEventIssued),
	}
	for event, n := range counts {
		if n != 3 {
			t.Fatalf("expected 3 %s entries, got %d", event, n)
		}
	}
	if total := countHistory(t, db, ""); total != 9 {
		t.Fatalf("expected 9 history rows in total, got %d", total)
	}
}
