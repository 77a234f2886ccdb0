package db

// Subject names a logical stream of schema versions.
type Subject string

// Version is a per-subject monotonically increasing version number.
// Versions are never reused, even after deletion.
type Version int

// SchemaID is the globally unique identifier of a schema payload.
// The same ID may be referenced by versions of different subjects.
type SchemaID int

// Schema is an entry of the global id table. The payload is opaque;
// compatibility semantics are not interpreted here.
type Schema struct {
	ID     SchemaID
	Schema string
	Type   string // AVRO, JSON or PROTOBUF
}

// SchemaVersion is one (subject, version) entry of the materialized view.
type SchemaVersion struct {
	Subject Subject
	Version Version
	ID      SchemaID
	Schema  string
	Type    string
	Deleted bool // Soft-deleted: excluded from live listings, still addressable by ID
}

// DefaultSchemaType is assumed when a schema record carries no type tag.
const DefaultSchemaType = "AVRO"
