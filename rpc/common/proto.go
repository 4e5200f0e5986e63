package common

import (
	"encoding/json"
	"fmt"

	"github.com/arannis-dev/qlock/lib/store"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses
// against a remote store.Adapter shard.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Request fields
	Key             string `json:"key,omitempty"`             // lock name / record key
	Value           []byte `json:"value,omitempty"`           // record value on PutIfAbsent/PutIfVersion
	LeaseSeconds    int64  `json:"leaseSeconds,omitempty"`    // record lease on PutIfAbsent/PutIfVersion
	Version         string `json:"version,omitempty"`         // new fencing token to install
	Host            string `json:"host,omitempty"`            // holder identity on PutIfAbsent/PutIfVersion
	ExpectedVersion string `json:"expectedVersion,omitempty"` // condition for PutIfVersion/DeleteIfVersion
	TableName       string `json:"tableName,omitempty"`       // used by table-admin messages
	TableShardID    uint64 `json:"tableShardId,omitempty"`    // used by table-admin messages
	TableReplicas   uint64 `json:"tableReplicas,omitempty"`   // used by CreateTable requests

	// Response fields
	Found       bool          `json:"found,omitempty"`       // Get: whether a record was found
	RespVersion string        `json:"respVersion,omitempty"` // Get response: the record's current fencing token
	RespLease   int64         `json:"respLease,omitempty"`   // Get response: the record's lease duration in seconds
	RespHost    string        `json:"respHost,omitempty"`    // Get response: the record's holder identity
	TableList   []string      `json:"tableList,omitempty"`   // ListTables response
	Err         string        `json:"err,omitempty"`         // empty if no error
	ErrCode     store.RetCode `json:"errCode,omitempty"`     // set alongside Err, preserves the store.Adapter error kind across the wire
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewPutIfAbsentRequest creates a request that installs a new record only if
// key has no current record.
func NewPutIfAbsentRequest(key string, value []byte, leaseSeconds int64, version, host string) *Message {
	return &Message{
		MsgType:      MsgTPutIfAbsent,
		Key:          key,
		Value:        value,
		LeaseSeconds: leaseSeconds,
		Version:      version,
		Host:         host,
	}
}

// NewPutIfVersionRequest creates a request that replaces the record at key
// only if its current fencing token equals expectedVersion.
func NewPutIfVersionRequest(key string, value []byte, leaseSeconds int64, version, host, expectedVersion string) *Message {
	return &Message{
		MsgType:         MsgTPutIfVersion,
		Key:             key,
		Value:           value,
		LeaseSeconds:    leaseSeconds,
		Version:         version,
		Host:            host,
		ExpectedVersion: expectedVersion,
	}
}

// NewDeleteIfVersionRequest creates a request that deletes the record at key
// only if its current fencing token equals expectedVersion.
func NewDeleteIfVersionRequest(key, expectedVersion string) *Message {
	return &Message{
		MsgType:         MsgTDeleteIfVersion,
		Key:             key,
		ExpectedVersion: expectedVersion,
	}
}

// NewGetRequest creates a request that reads the current record at key.
func NewGetRequest(key string) *Message {
	return &Message{
		MsgType: MsgTGet,
		Key:     key,
	}
}

// NewWriteResponse creates a response shared by PutIfAbsent, PutIfVersion and
// DeleteIfVersion, all of which either succeed or fail without a payload.
func NewWriteResponse(err error) *Message {
	msg := &Message{MsgType: MsgTSuccess}
	if err != nil {
		msg.MsgType = MsgTError
		msg.Err = err.Error()
		msg.ErrCode = retCodeOf(err)
	}
	return msg
}

// NewGetResponse creates a Get response.
func NewGetResponse(found bool, value []byte, version string, leaseSeconds int64, host string, err error) *Message {
	msg := &Message{
		MsgType:     MsgTGet,
		Found:       found,
		Value:       value,
		RespVersion: version,
		RespLease:   leaseSeconds,
		RespHost:    host,
	}
	if err != nil {
		msg.MsgType = MsgTError
		msg.Err = err.Error()
		msg.ErrCode = retCodeOf(err)
	}
	return msg
}

// retCodeOf extracts the store.RetCode carried by err, if any, so it
// survives being flattened to a string across the wire.
func retCodeOf(err error) store.RetCode {
	if e, ok := err.(*store.Error); ok {
		return e.Code
	}
	return store.RetCInternalError
}

// AsStoreError reconstructs a *store.Error from an error response's Err and
// ErrCode fields, so a remote store.Adapter's callers (in particular
// lib/dlm's store.IsConflict/store.IsTransient checks) see the same error
// kind a local store.Adapter would have returned.
func (m *Message) AsStoreError() error {
	if m.Err == "" {
		return nil
	}
	return store.NewError(m.ErrCode, m.Err)
}

// NewCreateTableRequest creates a request that provisions a new table. The
// server backs tables created this way with a memory store, not a raft shard.
func NewCreateTableRequest(tableName string, shardID, replicas uint64) *Message {
	return &Message{
		MsgType:       MsgTCreateTable,
		TableName:     tableName,
		TableShardID:  shardID,
		TableReplicas: replicas,
	}
}

// NewDeleteTableRequest creates a request that tears down a table's shard.
func NewDeleteTableRequest(tableName string) *Message {
	return &Message{
		MsgType:   MsgTDeleteTable,
		TableName: tableName,
	}
}

// NewListTablesRequest creates a request enumerating known tables.
func NewListTablesRequest() *Message {
	return &Message{MsgType: MsgTListTables}
}

// NewListTablesResponse creates the response to a ListTables request.
func NewListTablesResponse(tables []string, err error) *Message {
	msg := &Message{MsgType: MsgTListTables, TableList: tables}
	if err != nil {
		msg.MsgType = MsgTError
		msg.Err = err.Error()
	}
	return msg
}

// NewErrorResponse creates a bare error response, used when a request can't
// even be decoded into a well-formed operation.
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTPutIfAbsent:
		return "putIfAbsent"
	case MsgTPutIfVersion:
		return "putIfVersion"
	case MsgTDeleteIfVersion:
		return "deleteIfVersion"
	case MsgTGet:
		return "get"
	case MsgTCreateTable:
		return "createTable"
	case MsgTDeleteTable:
		return "deleteTable"
	case MsgTListTables:
		return "listTables"
	case MsgTError:
		return "error"
	case MsgTSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "putIfAbsent":
		*t = MsgTPutIfAbsent
	case "putIfVersion":
		*t = MsgTPutIfVersion
	case "deleteIfVersion":
		*t = MsgTDeleteIfVersion
	case "get":
		*t = MsgTGet
	case "createTable":
		*t = MsgTCreateTable
	case "deleteTable":
		*t = MsgTDeleteTable
	case "listTables":
		*t = MsgTListTables
	case "error":
		*t = MsgTError
	case "success":
		*t = MsgTSuccess
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// store.Adapter operations

	MsgTPutIfAbsent     // install a new record if key is unoccupied
	MsgTPutIfVersion    // replace a record conditioned on its fencing token
	MsgTDeleteIfVersion // remove a record conditioned on its fencing token
	MsgTGet             // read the current record at key

	// table administration

	MsgTCreateTable
	MsgTDeleteTable
	MsgTListTables
)
