package workflow_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/mmdatafocus/serial_tracking/config"
	"github.com/mmdatafocus/serial_tracking/models"
	"github.com/mmdatafocus/serial_tracking/workflow"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const testCompanyId = "3f0e8c56-2b0a-4c59-9d7e-0f7c1b6a9e11"

var (
	trackedItem   = &models.ItemRef{Id: 10, Code: "ITM-10", Name: "Cordless drill", LotTracked: true}
	untrackedItem = &models.ItemRef{Id: 11, Code: "ITM-11", Name: "Screws", LotTracked: false}
	mainWarehouse = &models.LocationRef{Id: 1, Code: "WH-A"}
	sideWarehouse = &models.LocationRef{Id: 2, Code: "WH-B"}
	maintenance   = &models.LocationRef{Id: 40, Code: "MAINT"}
	tester        = models.Actor{UserId: 7, UserName: "tester"}
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := config.OpenDatabase(sqlite.Open(filepath.Join(t.TempDir(), "serials.db")))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func qty(raw string) decimal.NullDecimal {
	return models.Quantity(decimal.RequireFromString(raw))
}

func newReceipt(id int, code string, quantity string) *models.ReceiptLine {
	return &models.ReceiptLine{
		Ref:       models.DocumentRef{CompanyId: testCompanyId, Type: "receipt", Id: id, Code: code},
		Item:      trackedItem,
		Quantity:  qty(quantity),
		Warehouse: mainWarehouse,
	}
}

func newIssue(id int, kind models.IssueKind, quantity string) *models.IssueLine {
	return &models.IssueLine{
		Ref:            models.DocumentRef{CompanyId: testCompanyId, Type: "issue_" + string(kind), Id: id, Code: fmt.Sprintf("ISS-%d", id)},
		Item:           trackedItem,
		Quantity:       qty(quantity),
		Warehouse:      mainWarehouse,
		DepartmentUnit: maintenance,
		Kind:           kind,
	}
}

// receiptSerials returns the serials generated for ref ordered by code.
func receiptSerials(t *testing.T, db *gorm.DB, ref models.DocumentRef) []*models.ItemSerial {
	t.Helper()
	var serials []*models.ItemSerial
	if err := db.Where("company_id = ? AND receipt_document_type = ? AND receipt_document_id = ? AND receipt_line_id = ?",
		ref.CompanyId, ref.Type, ref.Id, ref.LineId).
		Order("serial_code").Find(&serials).Error; err != nil {
		t.Fatalf("load receipt serials: %v", err)
	}
	return serials
}

func generate(t *testing.T, db *gorm.DB, receipt *models.ReceiptLine) []*models.ItemSerial {
	t.Helper()
	if _, err := workflow.GenerateReceiptSerials(context.Background(), db, receipt, tester); err != nil {
		t.Fatalf("generate %s: %v", receipt.Ref, err)
	}
	return receiptSerials(t, db, receipt.Ref)
}

func reload(t *testing.T, db *gorm.DB, id int) *models.ItemSerial {
	t.Helper()
	serial, err := models.GetItemSerial(context.Background(), db, testCompanyId, id)
	if err != nil {
		t.Fatalf("reload serial %d: %v", id, err)
	}
	return serial
}

func history(t *testing.T, db *gorm.DB, id int) []*models.ItemSerialHistory {
	t.Helper()
	entries, err := models.ListSerialHistory(context.Background(), db, testCompanyId, id)
	if err != nil {
		t.Fatalf("history of %d: %v", id, err)
	}
	return entries
}

func countHistory(t *testing.T, db *gorm.DB, event models.SerialEventType) int64 {
	t.Helper()
	var count int64
	q := db.Model(&models.ItemSerialHistory{}).Where("company_id = ?", testCompanyId)
	if event != "" {
		q = q.Where("event_type = ?", event)
	}
	if err := q.Count(&count).Error; err != nil {
		t.Fatalf("count history: %v", err)
	}
	return count
}

func ids(serials []*models.ItemSerial) []int {
	out := make([]int, 0, len(serials))
	for _, s := range serials {
		out = append(out, s.ID)
	}
	return out
}

func attach(t *testing.T, db *gorm.DB, ref models.DocumentRef, serialIds ...int) {
	t.Helper()
	if err := models.AttachDocumentSerials(context.Background(), db, ref, serialIds); err != nil {
		t.Fatalf("attach: %v", err)
	}
}

func detach(t *testing.T, db *gorm.DB, ref models.DocumentRef, serialIds ...int) {
	t.Helper()
	if err := models.DetachDocumentSerials(context.Background(), db, ref, serialIds); err != nil {
		t.Fatalf("detach: %v", err)
	}
}

func assertChain(t *testing.T, db *gorm.DB, id int) {
	t.Helper()
	if brk := models.VerifySerialHistoryChain(history(t, db, id)); brk != nil {
		t.Fatalf("history chain broken: %v", brk)
	}
}
