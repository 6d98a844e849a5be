package id

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// Node ids per process kind; two processes of the same kind must not share a node.
const (
	NodeServer  int64 = 1
	NodeWorker  int64 = 2
	NodeCleanup int64 = 3
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a new time-ordered int64 ID. Init must have been called.
func New() int64 {
	return node.Generate().Int64()
}

// Parse reads a decimal id as it appears in URLs and JSON strings.
func Parse(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return v, nil
}
