// Package models defines the persistent and transient data shapes from
// spec.md §3: Stream, TAKServer, CallsignMapping (gorm-backed rows) and
// DeviceState, Location (runtime-only views; the CoT event type lives in
// internal/cot). Struct tags follow
// the teacher's database/gorm + go-playground/validator pairing (see
// database/gorm/config.go) so the same struct serves persistence and
// validation without a second mapping layer.
package models

import "time"

// CotTypeMode governs whether plugins may override the CoT type per event.
type CotTypeMode string

const (
	CotTypeModePerStream CotTypeMode = "per_stream"
	CotTypeModePerPoint  CotTypeMode = "per_point"
)

// CallsignErrorHandling governs behavior when no callsign mapping matches.
type CallsignErrorHandling string

const (
	CallsignErrorFallback CallsignErrorHandling = "fallback"
	CallsignErrorSkip     CallsignErrorHandling = "skip"
)

// Stream is a named polling job binding one provider plugin to one or more
// TAK servers (spec.md §3 "Stream").
type Stream struct {
	ID       uint64 `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"uniqueIndex;size:255" json:"name" validate:"required,min=1,max=255"`
	PluginType string `gorm:"size:128;index" json:"plugin_type" validate:"required"`

	PollInterval int  `gorm:"not null" json:"poll_interval" validate:"required,min=1"`
	IsActive     bool `gorm:"not null;default:false" json:"is_active"`

	LastPoll          *time.Time `json:"last_poll"`
	LastError         *string    `json:"last_error"`
	TotalMessagesSent uint64     `gorm:"not null;default:0" json:"total_messages_sent"`

	// PluginConfig is the opaque, already-decrypted-at-load plugin config.
	// Field-level encryption of sensitive sub-keys is the persistence
	// layer's responsibility (spec.md §9); this struct never serializes the
	// plaintext map to logs (see internal/logging.Mask).
	PluginConfig []byte `gorm:"type:blob" json:"-"`

	DefaultCotType string      `gorm:"size:64" json:"default_cot_type" validate:"required"`
	CotTypeMode    CotTypeMode `gorm:"size:16" json:"cot_type_mode" validate:"required,oneof=per_stream per_point"`

	EnableCallsignMapping    bool                  `gorm:"not null;default:false" json:"enable_callsign_mapping"`
	CallsignIdentifierField  *string               `gorm:"size:128" json:"callsign_identifier_field"`
	CallsignErrorHandling    CallsignErrorHandling `gorm:"size:16;default:fallback" json:"callsign_error_handling" validate:"omitempty,oneof=fallback skip"`
	EnablePerCallsignCotType bool                  `gorm:"not null;default:false" json:"enable_per_callsign_cot_types"`

	// ConfigVersion is a monotonic timestamp (unix nanos) bumped on every
	// successful update via Manager.UpdateStreamSafely; the Stream Worker
	// polls this to detect hot-reload (spec.md §4.7 step 1).
	ConfigVersion int64 `gorm:"not null" json:"config_version"`

	TAKServerIDs []uint64 `gorm:"-" json:"tak_server_ids" validate:"required_if=IsActive true"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Protocol enumerates the transport TAKServer accepts.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolTLS Protocol = "tls"
)

// TLSVersion enumerates the minimum negotiated TLS version.
type TLSVersion string

const (
	TLSVersion12 TLSVersion = "1.2"
	TLSVersion13 TLSVersion = "1.3"
)

// TAKServer is a connection target for CoT delivery (spec.md §3 "TAKServer").
type TAKServer struct {
	ID   uint64 `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex;size:255" json:"name" validate:"required"`
	Host string `gorm:"size:255;not null" json:"host" validate:"required"`
	Port int    `gorm:"not null" json:"port" validate:"required,min=1,max=65535"`

	Protocol         Protocol   `gorm:"size:8" json:"protocol" validate:"required,oneof=tcp tls"`
	TLSVersion       TLSVersion `gorm:"size:8" json:"tls_version"`
	VerifyServerCert bool       `gorm:"not null;default:true" json:"verify_server_cert"`

	// ClientCertBundle and ClientCertPassword hold an opaque PKCS#12 blob or
	// PEM+key pair; the password is read verbatim, never interpolated
	// (spec.md §6 "Certificates").
	ClientCertBundle   []byte  `gorm:"type:blob" json:"-"`
	ClientCertPassword *string `json:"-"`
	CATrustBundle      []byte  `gorm:"type:blob" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CallsignMapping rewrites a device identifier to a human-readable callsign
// for one stream, optionally overriding the CoT type (spec.md §3
// "CallsignMapping").
type CallsignMapping struct {
	ID             uint64  `gorm:"primaryKey" json:"id"`
	StreamID       uint64  `gorm:"uniqueIndex:idx_stream_identifier;not null" json:"stream_id"`
	IdentifierValue string `gorm:"uniqueIndex:idx_stream_identifier;size:255;not null" json:"identifier_value" validate:"required"`
	CustomCallsign string  `gorm:"size:100;not null" json:"custom_callsign" validate:"required,min=1,max=100"`
	CotType        *string `gorm:"size:64" json:"cot_type"`
	Enabled        bool    `gorm:"not null;default:true" json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
