package config_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/mmdatafocus/serial_tracking/config"
	"github.com/mmdatafocus/serial_tracking/models"
	"github.com/mmdatafocus/serial_tracking/utils"
	"gorm.io/gorm"
)

const (
	companyA = "3f0e8c56-2b0a-4c59-9d7e-0f7c1b6a9e11"
	companyB = "9b2d4c1e-7a55-4f0b-8c3e-2d1f6a7b8c90"
)

func openGuardedDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := config.OpenDatabase(sqlite.Open(filepath.Join(t.TempDir(), "guard.db")))
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

func seedSerial(t *testing.T, db *gorm.DB, companyId string, code string) *models.ItemSerial {
	t.Helper()
	serial := &models.ItemSerial{
		CompanyId:     companyId,
		ItemId:        10,
		ItemCode:      "ITM-10",
		SerialCode:    code,
		CurrentStatus: models.SerialStatusAvailable,
	}
	if _, err := models.CreateItemSerial(db, serial, time.Now()); err != nil {
		t.Fatalf("create %s: %v", code, err)
	}
	return serial
}

func TestTenantGuardScopesQueriesAndUpdates(t *testing.T) {
	db := openGuardedDB(t)
	own := seedSerial(t, db, companyA, "A-0001")
	foreign := seedSerial(t, db, companyB, "B-0001")

	ctx := utils.SetCompanyIdInContext(context.Background(), companyA)

	var visible []*models.ItemSerial
	if err := db.WithContext(ctx).Order("id").Find(&visible).Error; err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(visible) != 1 || visible[0].ID != own.ID {
		t.Fatalf("expected only the company's own serial, got %d rows", len(visible))
	}

	res := db.WithContext(ctx).Model(&models.ItemSerial{}).Where("id = ?", foreign.ID).Update("secondary_serial_code", "HIJACK")
	if res.Error != nil {
		t.Fatalf("update: %v", res.Error)
	}
	if res.RowsAffected != 0 {
		t.Fatalf("update crossed companies: %d rows affected", res.RowsAffected)
	}

	res = db.WithContext(ctx).Model(&models.ItemSerial{}).Where("id = ?", own.ID).Update("secondary_serial_code", "MFG-1")
	if res.Error != nil || res.RowsAffected != 1 {
		t.Fatalf("own update: %d rows, %v", res.RowsAffected, res.Error)
	}

	var check models.ItemSerial
	if err := db.Where("id = ?", foreign.ID).First(&check).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if check.SecondarySerialCode != "" {
		t.Fatalf("foreign serial was modified: %q", check.SecondarySerialCode)
	}
}

func TestTenantGuardKeepsExplicitCompanyFilter(t *testing.T) {
	db := openGuardedDB(t)
	seedSerial(t, db, companyA, "A-0001")
	foreign := seedSerial(t, db, companyB, "B-0001")

	// an explicit company filter is not overridden by the context company
	ctx := utils.SetCompanyIdInContext(context.Background(), companyA)
	var found []*models.ItemSerial
	if err := db.WithContext(ctx).Where("company_id = ?", companyB).Find(&found).Error; err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(found) != 1 || found[0].ID != foreign.ID {
		t.Fatalf("expected the explicitly filtered company's serial, got %d rows", len(found))
	}

	var all int64
	if err := db.WithContext(utils.SkipTenantScope(ctx)).Model(&models.ItemSerial{}).Count(&all).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if all != 2 {
		t.Fatalf("bypassed scope should see both companies, got %d", all)
	}
}
