package models

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/serial_tracking/utils"
	"github.com/shopspring/decimal"
)

// DocumentRef identifies a document, or one line of it when LineId > 0.
type DocumentRef struct {
	CompanyId string `json:"company_id" validate:"required,uuid"`
	Type      string `json:"type" validate:"required,max=30"`
	Id        int    `json:"id" validate:"gt=0"`
	LineId    int    `json:"line_id" validate:"gte=0"`
	Code      string `json:"code" validate:"max=30"`
}

func (r DocumentRef) Validate() error {
	return utils.ValidateStruct(r)
}

func (r DocumentRef) String() string {
	if r.LineId > 0 {
		return fmt.Sprintf("%s#%d/%d(%s)", r.Type, r.Id, r.LineId, r.Code)
	}
	return fmt.Sprintf("%s#%d(%s)", r.Type, r.Id, r.Code)
}

// LockKey scopes the Redis document lock.
func (r DocumentRef) LockKey() string {
	return fmt.Sprintf("serials:%s:%s:%d:%d", r.CompanyId, r.Type, r.Id, r.LineId)
}

type ItemRef struct {
	Id         int    `json:"id" validate:"gt=0"`
	Code       string `json:"code" validate:"max=16"`
	Name       string `json:"name"`
	LotTracked bool   `json:"lot_tracked"`
}

// Label is what user-facing messages call the item.
func (i *ItemRef) Label() string {
	if i == nil {
		return ""
	}
	if i.Name != "" {
		return i.Name
	}
	return i.Code
}

type LocationRef struct {
	Id   int    `json:"id" validate:"gt=0"`
	Code string `json:"code" validate:"max=8"`
}

func (l *LocationRef) IdPtr() *int {
	if l == nil || l.Id == 0 {
		return nil
	}
	id := l.Id
	return &id
}

func (l *LocationRef) CodeOrEmpty() string {
	if l == nil {
		return ""
	}
	return l.Code
}

// Actor is the user a serial mutation is recorded against.
type Actor struct {
	UserId   int    `json:"user_id"`
	UserName string `json:"user_name"`
}

// ActorFromContext reads the acting user the request middleware put in ctx.
func ActorFromContext(ctx context.Context) Actor {
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)
	return Actor{UserId: userId, UserName: userName}
}

// SerialLine is what every serial-tracked document or line exposes to the engines.
type SerialLine interface {
	SerialDocumentRef() DocumentRef
	// nil when the document has no item yet
	SerialItem() *ItemRef
	SerialQuantity() decimal.NullDecimal
	SerialWarehouse() *LocationRef
}

// ReceiptDocument is a receipt (or receipt line) that generates serials when locked.
type ReceiptDocument interface {
	SerialLine
}

// IssueDocument is an issue/consumption document (or line) that reserves and finalizes serials.
type IssueDocument interface {
	SerialLine
	SerialDepartmentUnit() *LocationRef
	SerialIssueKind() IssueKind
}

// ReceiptLine is a plain ReceiptDocument for callers that don't wrap their own types.
type ReceiptLine struct {
	Ref       DocumentRef
	Item      *ItemRef
	Quantity  decimal.NullDecimal
	Warehouse *LocationRef
}

func (r *ReceiptLine) SerialDocumentRef() DocumentRef      { return r.Ref }
func (r *ReceiptLine) SerialItem() *ItemRef                { return r.Item }
func (r *ReceiptLine) SerialQuantity() decimal.NullDecimal { return r.Quantity }
func (r *ReceiptLine) SerialWarehouse() *LocationRef       { return r.Warehouse }

// IssueLine is a plain IssueDocument.
type IssueLine struct {
	Ref            DocumentRef
	Item           *ItemRef
	Quantity       decimal.NullDecimal
	Warehouse      *LocationRef
	DepartmentUnit *LocationRef
	Kind           IssueKind
}

func (l *IssueLine) SerialDocumentRef() DocumentRef      { return l.Ref }
func (l *IssueLine) SerialItem() *ItemRef                { return l.Item }
func (l *IssueLine) SerialQuantity() decimal.NullDecimal { return l.Quantity }
func (l *IssueLine) SerialWarehouse() *LocationRef       { return l.Warehouse }
func (l *IssueLine) SerialDepartmentUnit() *LocationRef  { return l.DepartmentUnit }
func (l *IssueLine) SerialIssueKind() IssueKind          { return l.Kind }

// IsLotTracked reports whether the document's item tracks serials.
func IsLotTracked(doc SerialLine) bool {
	item := doc.SerialItem()
	return item != nil && item.LotTracked
}

// Quantity is a convenience for building document carriers.
func Quantity(q decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: q, Valid: true}
}

// ParseSerialQuantity reads a quantity entered as text. Non-numeric input is a quantity mismatch.
func ParseSerialQuantity(raw string) (decimal.NullDecimal, error) {
	q, err := utils.ParseDecimal(raw)
	if err != nil {
		return decimal.NullDecimal{}, &SerialQuantityMismatchError{Quantity: raw, Reason: "quantity must be a number for serialised items"}
	}
	return Quantity(q), nil
}

// WholeUnits maps a quantity onto a count of discrete serials.
func WholeUnits(itemCode string, q decimal.Decimal) (int, error) {
	if !q.Equal(q.Truncate(0)) {
		return 0, &SerialQuantityMismatchError{ItemCode: itemCode, Quantity: q.String(), Reason: "quantity must be a whole number when tracking serials"}
	}
	if q.IsNegative() {
		return 0, &SerialQuantityMismatchError{ItemCode: itemCode, Quantity: q.String(), Reason: "quantity cannot be negative"}
	}
	return int(q.IntPart()), nil
}
