package models

import (
	"gorm.io/gorm"
)

// SerialTables are the tables the serial tracking core owns.
func SerialTables() []interface{} {
	return []interface{}{&ItemSerial{}, &ItemSerialHistory{}, &DocumentSerial{}}
}

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(SerialTables()...)
}
