package reader

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/amstee/karapace/db"
)

// MessageType tags the operation a topic record encodes. The set is
// closed: anything but the known key types maps to MessageTypeUnknown
// and is skipped during replay.
type MessageType int

const (
	MessageTypeSchema MessageType = iota
	MessageTypeConfig
	MessageTypeDeleteSubject
	MessageTypeNoop
	MessageTypeUnknown
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeSchema:
		return "SCHEMA"
	case MessageTypeConfig:
		return "CONFIG"
	case MessageTypeDeleteSubject:
		return "DELETE_SUBJECT"
	case MessageTypeNoop:
		return "NOOP"
	default:
		return "UNKNOWN"
	}
}

// ErrInvalidKey marks a record key that could not be decoded. Such
// records are logged and skipped; replay never halts on them.
var ErrInvalidKey = errors.New("invalid record key")

// RecordKey is the decoded key of a schemas-topic record.
type RecordKey struct {
	Type    MessageType
	Subject db.Subject
	Version db.Version
	Magic   int
}

type rawKey struct {
	KeyType string `json:"keytype"`
	Subject string `json:"subject"`
	Version int    `json:"version"`
	Magic   int    `json:"magic"`
}

// ParseKey decodes raw key bytes into a RecordKey. A syntactically valid
// key with an unrecognized keytype is not an error: it decodes to
// MessageTypeUnknown so foreign records pass through harmlessly.
func ParseKey(raw []byte) (RecordKey, error) {
	if len(raw) == 0 {
		return RecordKey{}, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	var k rawKey
	if err := json.Unmarshal(raw, &k); err != nil {
		return RecordKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if k.KeyType == "" {
		return RecordKey{}, fmt.Errorf("%w: missing keytype", ErrInvalidKey)
	}

	key := RecordKey{
		Subject: db.Subject(k.Subject),
		Version: db.Version(k.Version),
		Magic:   k.Magic,
	}

	switch k.KeyType {
	case "SCHEMA":
		key.Type = MessageTypeSchema
	case "CONFIG":
		key.Type = MessageTypeConfig
	case "DELETE_SUBJECT":
		key.Type = MessageTypeDeleteSubject
	case "NOOP":
		key.Type = MessageTypeNoop
	default:
		key.Type = MessageTypeUnknown
	}

	return key, nil
}
