package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/serial_tracking/config"
	"github.com/mmdatafocus/serial_tracking/models"
	"github.com/mmdatafocus/serial_tracking/utils"
	"gorm.io/gorm"
)

// serialTransaction runs fn in one transaction with a bounded row-lock wait.
// Lock wait timeouts and deadlocks come back as *SerialLockTimeoutError.
func serialTransaction(ctx context.Context, db *gorm.DB, ref models.DocumentRef, funcName string, fn func(tx *gorm.DB) error) error {
	release := documentLock(ctx, ref, funcName)
	defer release()

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := boundLockWait(tx); err != nil {
			return err
		}
		return fn(tx)
	})
	return lockError(ref, err)
}

// receiptTransaction is serialTransaction plus a MySQL advisory lock per receipt, held
// on a pinned connection until after commit so concurrent generators of the same
// receipt see each other's serials when counting.
func receiptTransaction(ctx context.Context, db *gorm.DB, ref models.DocumentRef, funcName string, fn func(tx *gorm.DB) error) error {
	if !isMySQL(db) {
		return serialTransaction(ctx, db, ref, funcName, fn)
	}
	release := documentLock(ctx, ref, funcName)
	defer release()

	err := db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := acquireReceiptLock(conn, ref); err != nil {
			return err
		}
		defer releaseReceiptLock(conn, ref)

		return conn.Transaction(func(tx *gorm.DB) error {
			if err := boundLockWait(tx); err != nil {
				return err
			}
			return fn(tx)
		})
	})
	return lockError(ref, err)
}

func isMySQL(db *gorm.DB) bool {
	return db.Dialector != nil && db.Dialector.Name() == "mysql"
}

// boundLockWait caps how long statements of this transaction's connection wait on row locks.
func boundLockWait(tx *gorm.DB) error {
	if !isMySQL(tx) {
		return nil
	}
	secs := int(config.SerialLockWaitTimeout() / time.Second)
	return tx.Exec(fmt.Sprintf("SET SESSION innodb_lock_wait_timeout = %d", secs)).Error
}

// GET_LOCK names are limited to 64 characters.
func receiptLockName(ref models.DocumentRef) string {
	return "serial_receipt:" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(ref.LockKey())).String()
}

// NOTE: GET_LOCK is connection-scoped, so conn must be the connection the transaction runs on.
func acquireReceiptLock(conn *gorm.DB, ref models.DocumentRef) error {
	secs := int(config.SerialLockWaitTimeout() / time.Second)
	var obtained sql.NullInt64
	if err := conn.Raw("SELECT GET_LOCK(?, ?)", receiptLockName(ref), secs).Scan(&obtained).Error; err != nil {
		return err
	}
	if !obtained.Valid || obtained.Int64 != 1 {
		return &models.SerialLockTimeoutError{
			Document: ref.String(),
			Err:      fmt.Errorf("receipt generation lock not obtained within %ds", secs),
		}
	}
	return nil
}

func releaseReceiptLock(conn *gorm.DB, ref models.DocumentRef) {
	var released sql.NullInt64
	_ = conn.Raw("SELECT RELEASE_LOCK(?)", receiptLockName(ref)).Scan(&released).Error
}

// documentLock takes the optional Redis lock for a document. Never nil.
func documentLock(ctx context.Context, ref models.DocumentRef, funcName string) func() {
	if !config.SerialDocumentLockEnabled() {
		return func() {}
	}
	release, _ := utils.DocumentLock(ctx, ref.LockKey(), config.SerialLockWaitTimeout(), "workflow/serialLocking.go", funcName)
	return release
}

func lockError(ref models.DocumentRef, err error) error {
	if err == nil {
		return nil
	}
	var lockErr *models.SerialLockTimeoutError
	if errors.As(err, &lockErr) {
		return err
	}
	if utils.IsLockContention(err) {
		return &models.SerialLockTimeoutError{Document: ref.String(), Err: err}
	}
	return err
}
