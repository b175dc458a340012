package workflow

import (
	"time"

	"github.com/mmdatafocus/serial_tracking/config"
	"github.com/mmdatafocus/serial_tracking/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// serialBatch collects what one engine transaction did so the caller can report
// it and drop stale caches after commit.
type serialBatch struct {
	tx          *gorm.DB
	actor       models.Actor
	now         time.Time
	transitions map[models.SerialEventType]int
	touched     map[[2]int]struct{}
}

func newSerialBatch(tx *gorm.DB, actor models.Actor) *serialBatch {
	return &serialBatch{
		tx:          tx,
		actor:       actor,
		now:         tx.NowFunc(),
		transitions: make(map[models.SerialEventType]int),
		touched:     make(map[[2]int]struct{}),
	}
}

// stamp re-reads the clock. Called once the rows are locked, since waiting for a
// lock can outlast a transaction that already wrote history for the same serial.
func (b *serialBatch) stamp() {
	b.now = b.tx.NowFunc()
}

// apply writes a transition returned by one of the ItemSerial transition methods.
// A nil entry means the serial was already where it had to be.
func (b *serialBatch) apply(serial *models.ItemSerial, before [2]int, entry *models.ItemSerialHistory) error {
	if entry == nil {
		return nil
	}
	if err := models.SaveSerialTransition(b.tx, serial, entry); err != nil {
		return err
	}
	b.transitions[entry.EventType]++
	b.touched[before] = struct{}{}
	b.touched[serial.AvailabilityKey()] = struct{}{}
	return nil
}

func (b *serialBatch) created(serial *models.ItemSerial) {
	b.transitions[models.SerialEventCreated]++
	b.touched[serial.AvailabilityKey()] = struct{}{}
}

// reserve and release in one pass over serials already locked in serial code order.
func (b *serialBatch) reconcile(serials []*models.ItemSerial, issue models.IssueDocument, reserve map[int]struct{}, release map[int]struct{}) error {
	ref := issue.SerialDocumentRef()
	for _, serial := range serials {
		before := serial.AvailabilityKey()
		if _, ok := release[serial.ID]; ok {
			if serial.CurrentStatus == models.SerialStatusReserved && !serial.HeldBy(ref) && !serial.HeldBySibling(ref) {
				config.GetLogger().WithFields(logrus.Fields{
					"serial_code": serial.SerialCode,
					"holder":      serial.CurrentDocumentType,
					"document":    ref.String(),
				}).Warn("release skipped, serial is reserved by another document")
				continue
			}
			entry, err := serial.ReleaseFrom(ref, issue.SerialWarehouse(), b.now, b.actor)
			if err != nil {
				return err
			}
			if err := b.apply(serial, before, entry); err != nil {
				return err
			}
			continue
		}
		if _, ok := reserve[serial.ID]; ok {
			entry, err := serial.ReserveFor(ref, issue.SerialWarehouse(), issue.SerialDepartmentUnit(), b.now, b.actor)
			if err != nil {
				return err
			}
			if err := b.apply(serial, before, entry); err != nil {
				return err
			}
		}
	}
	return nil
}

func idSet(ids []int) map[int]struct{} {
	set := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// difference returns the ids of a that are not in b, in a's order.
func difference(a []int, b map[int]struct{}) []int {
	var out []int
	seen := make(map[int]struct{}, len(a))
	for _, id := range a {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := b[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
