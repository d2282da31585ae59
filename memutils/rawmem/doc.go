// Package rawmem is the only place in this module that reads memory through addresses it
// did not obtain from the Go runtime. Everything that interprets raw words as candidate
// pointers goes through Region.ForEachWord or ForEachBlockWord.
//
// Both functions check their edges before touching memory: reads are word aligned and never
// extend past the end of a region or the reserved length of a block. They cannot check that
// a caller-supplied region is actually mapped; an unmapped region faults the process.
package rawmem
