package main

import (
	"fmt"
	"os"

	"github.com/mmdatafocus/serial_tracking/config"
	"github.com/mmdatafocus/serial_tracking/models"
	"github.com/sirupsen/logrus"
)

// Creates or updates the item_serials, item_serial_histories and document_serials tables.
func main() {
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	if err := models.MigrateTable(db); err != nil {
		config.LogError(config.GetLogger(), "cmd/serial-migrate", "main", "MigrateTable", nil, err)
		os.Exit(1)
	}
	config.GetLogger().WithFields(logrus.Fields{"tables": len(models.SerialTables())}).Info("serial tables migrated")
}
