package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled  = errors.New("storage disabled")
	ErrNotFound  = errors.New("folio not found")
	ErrDuplicate = errors.New("folio already exists")
)

// Status is the payment state of a folio.
type Status string

const (
	StatusPending        Status = "PENDIENTE"
	StatusReceiptSent    Status = "COMPROBANTE_ENVIADO"
	StatusAdminValidated Status = "VALIDADO_ADMIN"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusReceiptSent, StatusAdminValidated:
		return true
	}
	return false
}

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "memory": in-process maps; Path, if set, receives the audit log as JSONL
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Folio is one registered permit request.
type Folio struct {
	Folio string `json:"folio"`
	Owner int64  `json:"owner"`

	Marca  string `json:"marca"`
	Linea  string `json:"linea"`
	Anio   string `json:"anio"`
	Serie  string `json:"serie"`
	Motor  string `json:"motor"`
	Color  string `json:"color"`
	Nombre string `json:"nombre"`

	Status    Status    `json:"status"`
	Price     int       `json:"price"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	ReceiptAt time.Time `json:"receipt_at,omitzero"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuditEntry records an operator or user action on a folio.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time `json:"at"`
	ActorID int64     `json:"actor_id"`
	Action  string    `json:"action"`
	Folio   string    `json:"folio"`
	OK      bool      `json:"ok"`
	Detail  string    `json:"detail,omitempty"`
}
