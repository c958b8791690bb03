package utilities

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

// NewKSUID generates a new globally unique KSUID string. Used for canonical
// identity, presence and raw-record ids.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewImportID generates a snowflake ID string for an import batch using a
// node ID from the environment variable SNOWFLAKE_NODE. Snowflake ids sort by
// creation time, which keeps import batches naturally ordered.
func NewImportID() string {
	nodeEnv := os.Getenv("SNOWFLAKE_NODE")
	if nodeEnv == "" {
		return newImportIDWithNode(1)
	}
	nodeID, err := strconv.ParseInt(nodeEnv, 10, 64)
	if err != nil {
		return newImportIDWithNode(1)
	}
	return newImportIDWithNode(nodeID)
}

// newImportIDWithNode generates a snowflake ID string using the provided node
// ID. If the node cannot be initialized, it falls back to a KSUID string so a
// unique ID is still returned.
func newImportIDWithNode(nodeID int64) string {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return NewKSUID()
	}
	return node.Generate().String()
}
