package metadata

import (
	"github.com/cockroachdb/errors"
)

const (
	// DefaultBaseClassSize is the smallest size class of the default ladder, in bytes
	DefaultBaseClassSize int = 521
	// DefaultSizeClassCount is the number of classes in the default ladder: the base class
	// doubled seven times
	DefaultSizeClassCount int = 8
)

// ErrOversizedRequest is returned when a request is too large for every class in a ladder
var ErrOversizedRequest = errors.New("requested size is too large for any size class")

// ErrInvalidRequest is returned when a zero or negative size reaches the classifier
var ErrInvalidRequest = errors.New("requested size must be positive")

// SizeClassLadder maps requested byte counts to one of a fixed set of block sizes. Each
// class is double the size of the class before it.
type SizeClassLadder struct {
	classes []int
}

// DefaultSizeClassLadder returns the ladder 521, 1042, 2084, ... 66688
func DefaultSizeClassLadder() *SizeClassLadder {
	ladder, err := NewSizeClassLadder(DefaultBaseClassSize, DefaultSizeClassCount)
	if err != nil {
		panic(err)
	}
	return ladder
}

// NewSizeClassLadder builds a ladder of count classes, starting at base bytes and doubling
func NewSizeClassLadder(base int, count int) (*SizeClassLadder, error) {
	if base < 1 {
		return nil, errors.Newf("base class size must be positive, but was %d", base)
	}
	if count < 1 {
		return nil, errors.Newf("size class count must be positive, but was %d", count)
	}

	classes := make([]int, count)
	size := base
	for i := 0; i < count; i++ {
		if size <= 0 {
			return nil, errors.Newf("size class %d overflows with base %d", i, base)
		}
		classes[i] = size
		size *= 2
	}

	return &SizeClassLadder{classes: classes}, nil
}

// Classify returns the first class strictly greater than requested. A request that is exactly
// equal to a class boundary is promoted to the next class.
func (l *SizeClassLadder) Classify(requested int) (int, error) {
	if requested <= 0 {
		return 0, errors.Wrapf(ErrInvalidRequest, "requested %d bytes", requested)
	}

	for _, class := range l.classes {
		if requested < class {
			return class, nil
		}
	}

	return 0, errors.Wrapf(ErrOversizedRequest, "requested %d bytes, but the largest size class is %d bytes", requested, l.LargestClass())
}

// MaxRequest is the largest request that Classify can serve
func (l *SizeClassLadder) MaxRequest() int {
	return l.LargestClass() - 1
}

func (l *SizeClassLadder) LargestClass() int {
	return l.classes[len(l.classes)-1]
}

func (l *SizeClassLadder) SmallestClass() int {
	return l.classes[0]
}

// Classes returns a copy of the ladder, smallest class first
func (l *SizeClassLadder) Classes() []int {
	classes := make([]int, len(l.classes))
	copy(classes, l.classes)
	return classes
}
