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
)

// Sets the secondary (manufacturer) code of a serial. The generated serial code never changes.
func main() {
	companyID := flag.String("company-id", "", "Required: company id (uuid)")
	serialCode := flag.String("serial-code", "", "Required: generated serial code")
	secondary := flag.String("secondary-code", "", "New secondary code (empty clears it)")
	userID := flag.Int("user-id", 0, "Required: user recorded as editor")
	userName := flag.String("user-name", "", "Name of the editing user")
	dryRun := flag.Bool("dry-run", true, "Show record only (no writes)")
	flag.Parse()

	if strings.TrimSpace(*companyID) == "" || strings.TrimSpace(*serialCode) == "" || *userID <= 0 {
		fmt.Fprintln(os.Stderr, "--company-id, --serial-code and --user-id are required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx := utils.SetCompanyIdInContext(context.Background(), *companyID)
	ctx = utils.SetUserIdInContext(ctx, *userID)
	ctx = utils.SetUserNameInContext(ctx, *userName)

	serial, err := models.GetItemSerialByCode(ctx, db, *companyID, *serialCode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "serial %q: %v\n", *serialCode, err)
		os.Exit(1)
	}
	fmt.Printf("serial id=%d code=%s secondary=%q status=%s\n", serial.ID, serial.SerialCode, serial.SecondarySerialCode, serial.CurrentStatus)
	if *dryRun {
		return
	}

	updated, err := models.UpdateSecondarySerialCode(ctx, db, *companyID, serial.ID, *secondary, models.ActorFromContext(ctx))
	if err != nil {
		config.LogError(config.GetLogger(), "cmd/serial-relabel", "main", "UpdateSecondarySerialCode", serial.SerialCode, err)
		os.Exit(1)
	}
	fmt.Printf("✓ secondary code of %s is now %q\n", updated.SerialCode, updated.SecondarySerialCode)
}
