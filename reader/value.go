package reader

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrTombstone marks a record value that is empty or undecodable. For
// SCHEMA keys this is the compaction signal to hard-delete the keyed
// (subject, version), not a failure.
var ErrTombstone = errors.New("tombstone value")

// SchemaValue is the decoded value of a SCHEMA record.
type SchemaValue struct {
	Subject    string `json:"subject"`
	Version    int    `json:"version"`
	ID         int    `json:"id"`
	Schema     string `json:"schema"`
	SchemaType string `json:"schemaType,omitempty"`
	Deleted    bool   `json:"deleted,omitempty"`
}

// ConfigValue is the decoded value of a CONFIG record.
type ConfigValue struct {
	CompatibilityLevel string `json:"compatibilityLevel"`
}

// DeleteSubjectValue is the decoded value of a DELETE_SUBJECT record.
// Version is the highest version that existed when the subject was
// deleted; every version up to it is soft-deleted.
type DeleteSubjectValue struct {
	Subject string `json:"subject"`
	Version int    `json:"version"`
}

func parseSchemaValue(raw []byte) (SchemaValue, error) {
	if len(raw) == 0 {
		return SchemaValue{}, ErrTombstone
	}

	var v SchemaValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return SchemaValue{}, fmt.Errorf("%w: %v", ErrTombstone, err)
	}
	if v.Subject == "" || v.Schema == "" {
		return SchemaValue{}, fmt.Errorf("%w: incomplete schema value", ErrTombstone)
	}
	return v, nil
}

func parseConfigValue(raw []byte) (ConfigValue, error) {
	if len(raw) == 0 {
		return ConfigValue{}, ErrTombstone
	}

	var v ConfigValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return ConfigValue{}, fmt.Errorf("%w: %v", ErrTombstone, err)
	}
	return v, nil
}

func parseDeleteSubjectValue(raw []byte) (DeleteSubjectValue, error) {
	if len(raw) == 0 {
		return DeleteSubjectValue{}, ErrTombstone
	}

	var v DeleteSubjectValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return DeleteSubjectValue{}, fmt.Errorf("%w: %v", ErrTombstone, err)
	}
	if v.Subject == "" {
		return DeleteSubjectValue{}, fmt.Errorf("%w: missing subject", ErrTombstone)
	}
	return v, nil
}
