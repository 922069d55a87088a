// Package util provides shared utility functions.
package util

import (
	"fmt"
	"hash/fnv"
)

// PeerTag computes a short, stable tag for a peer identifier so log lines
// stay readable. The tag is used solely for identification and does not need
// to be reversible.
func PeerTag(id string) string {
	if id == "" {
		return "--------"
	}
	h := fnv.New32a()
	h.Write([]byte(id))
	return fmt.Sprintf("%08x", h.Sum32())
}
