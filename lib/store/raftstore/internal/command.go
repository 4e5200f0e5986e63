// Package internal defines the wire representation of raftstore's Raft log
// entries and read-only queries.
package internal

import (
	"encoding/json"
	"fmt"
)

// CommandType defines the conditional write operations supported by the
// state machine.
type CommandType uint8

const (
	CommandTPutIfAbsent     CommandType = iota // Create a record if none exists.
	CommandTPutIfVersion                       // Overwrite a record if its version matches.
	CommandTDeleteIfVersion                    // Delete a record if its version matches.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTPutIfAbsent:
		return "PutIfAbsent"
	case CommandTPutIfVersion:
		return "PutIfVersion"
	case CommandTDeleteIfVersion:
		return "DeleteIfVersion"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// Command represents a single conditional write to be applied by the state
// machine as one committed Raft log entry.
type Command struct {
	Type            CommandType
	Key             string
	Record          []byte // JSON-encoded store.Record, unused for CommandTDeleteIfVersion
	ExpectedVersion string // unused for CommandTPutIfAbsent
}

// Serialize encodes the command for inclusion in a Raft log entry.
func (c *Command) Serialize() []byte {
	b, err := json.Marshal(c)
	if err != nil {
		// Command only holds JSON-safe fields, this cannot realistically fail.
		panic(fmt.Sprintf("raftstore: failed to serialize command: %v", err))
	}
	return b
}

// Deserialize decodes a command previously produced by Serialize.
func (c *Command) Deserialize(data []byte) error {
	return json.Unmarshal(data, c)
}
