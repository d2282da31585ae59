//go:build !unix

package rawmem

// DefaultPageSource returns the PageSource used when an allocator is not given one
func DefaultPageSource() PageSource {
	return HeapPageSource{}
}
