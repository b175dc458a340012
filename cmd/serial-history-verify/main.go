package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/serial_tracking/config"
	"github.com/mmdatafocus/serial_tracking/models"
	"github.com/mmdatafocus/serial_tracking/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Replays the history of every serial of a company and reports entries that do not
// continue from the previous one, and serials whose stored status disagrees with their
// last entry. Read-only.
func main() {
	companyID := flag.String("company-id", "", "Required: company id (uuid)")
	serialCode := flag.String("serial-code", "", "Only check this serial")
	status := flag.String("status", "", "Only check serials currently in this status")
	batchSize := flag.Int("batch-size", 500, "Serials loaded per batch")
	flag.Parse()

	if strings.TrimSpace(*companyID) == "" {
		fmt.Fprintln(os.Stderr, "--company-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()
	ctx, cid := utils.EnsureCorrelationId(utils.SetCompanyIdInContext(context.Background(), *companyID))

	var serials []*models.ItemSerial
	if strings.TrimSpace(*serialCode) != "" {
		serial, err := models.GetItemSerialByCode(ctx, db, *companyID, *serialCode)
		if err != nil {
			fmt.Fprintf(os.Stderr, "serial %q: %v\n", *serialCode, err)
			os.Exit(1)
		}
		serials = append(serials, serial)
	} else {
		q := db.WithContext(ctx).Where("company_id = ?", *companyID).Order("id")
		if strings.TrimSpace(*status) != "" {
			s, err := models.ParseSerialStatus(*status)
			if err != nil {
				fmt.Fprintf(os.Stderr, "--status: %v\n", err)
				os.Exit(1)
			}
			q = q.Where("current_status = ?", s)
		}
		var batch []*models.ItemSerial
		if err := q.FindInBatches(&batch, *batchSize, func(_ *gorm.DB, _ int) error {
			serials = append(serials, batch...)
			return nil
		}).Error; err != nil {
			config.LogError(logger, "cmd/serial-history-verify", "main", "load serials", *companyID, err)
			os.Exit(1)
		}
	}

	broken := 0
	for _, serial := range serials {
		entries, err := models.ListSerialHistory(ctx, db, *companyID, serial.ID)
		if err != nil {
			config.LogError(logger, "cmd/serial-history-verify", "main", "ListSerialHistory", serial.SerialCode, err)
			os.Exit(1)
		}
		reason := ""
		if len(entries) == 0 {
			reason = "no history entries"
		} else if brk := models.VerifySerialHistoryChain(entries); brk != nil {
			reason = brk.Error()
		} else if last := entries[len(entries)-1]; last.ToStatus != serial.CurrentStatus {
			reason = fmt.Sprintf("stored status %s but last entry ends in %s", serial.CurrentStatus, last.ToStatus)
		}
		if reason == "" {
			continue
		}
		broken++
		logger.WithFields(logrus.Fields{
			"correlation_id": cid,
			"serial_id":      serial.ID,
			"serial_code":    serial.SerialCode,
			"entries":        len(entries),
		}).Warn(reason)
		fmt.Printf("✗ %s (id=%d): %s\n", serial.SerialCode, serial.ID, reason)
	}

	fmt.Printf("checked %d serials, %d broken\n", len(serials), broken)
	if broken > 0 {
		os.Exit(2)
	}
}
