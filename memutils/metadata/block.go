package metadata

import (
	"fmt"
	"math"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// BlockHandle is a stable numeric key for a block in a BlockRegistry. Handles are never reused
// within a registry.
type BlockHandle uint64

const (
	NoBlock BlockHandle = math.MaxUint64
)

// Block is the bookkeeping record for one tracked allocation
type Block struct {
	Handle BlockHandle
	// Address is the payload address handed to the caller. It is unique among live blocks.
	Address uintptr
	// ClassSize is the number of bytes reserved for the block
	ClassSize int
	// RequestedSize is the number of bytes the caller asked for
	RequestedSize int
	// UserData belongs to the registry's owner
	UserData any
}

// Contains reports whether value falls inside [Address, Address+ClassSize)
func (b *Block) Contains(value uintptr) bool {
	return value >= b.Address && value < b.Address+uintptr(b.ClassSize)
}

// PrintParameters populates a json object with information about this block
func (b *Block) PrintParameters(json *jwriter.ObjectState) {
	json.Name("Address").String(fmt.Sprintf("%#x", b.Address))
	json.Name("RequestedSize").Int(b.RequestedSize)
	json.Name("ClassSize").Int(b.ClassSize)
}
