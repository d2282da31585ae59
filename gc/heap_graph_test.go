package gc

import (
	"bytes"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func testObjectTable() *objectTable {
	return &objectTable{objects: []objectRange{
		{address: 0x1000, size: 521},
		{address: 0x2000, size: 1042},
		{address: 0x3000, size: 16},
	}}
}

func TestObjectTableFind(t *testing.T) {
	table := testObjectTable()

	testCases := []struct {
		value   uintptr
		address uintptr
		found   bool
	}{
		{value: 0, found: false},
		{value: 0xfff, found: false},
		{value: 0x1000, address: 0x1000, found: true},
		{value: 0x1001, address: 0x1000, found: true},
		{value: 0x1208, address: 0x1000, found: true},
		{value: 0x1209, found: false},
		{value: 0x2411, address: 0x2000, found: true},
		{value: 0x2412, found: false},
		{value: 0x300f, address: 0x3000, found: true},
		{value: 0x3010, found: false},
		{value: ^uintptr(0), found: false},
	}

	for _, testCase := range testCases {
		address, found := table.find(testCase.value)
		require.Equal(t, testCase.found, found, "value %#x", testCase.value)
		require.Equal(t, testCase.address, address, "value %#x", testCase.value)
	}

	require.True(t, table.isObject(0x2000))
	require.False(t, table.isObject(0x2008))
	require.Equal(t, 3, table.count())

	empty := &objectTable{}
	_, found := empty.find(0x1000)
	require.False(t, found)
}

func TestHeapGraphEdges(t *testing.T) {
	graph := newHeapGraph(testObjectTable())
	graph.addNode(0x1000)
	graph.addNode(0x2000)
	graph.addNode(0x3000)

	require.True(t, graph.addEdge(0x1000, 0x2000))
	require.False(t, graph.addEdge(0x1000, 0x2000))
	require.True(t, graph.addEdge(0x1000, 0x3000))
	require.True(t, graph.addEdge(0x500, 0x1000))
	require.True(t, graph.addEdge(0x400, 0x3000))

	require.Equal(t, 4, graph.edgeCount)
	require.Equal(t, 5, graph.nodeCount())
	require.Equal(t, []uintptr{0x400, 0x500}, graph.rootNodes())

	edges, ok := graph.edges(0x1000)
	require.True(t, ok)
	require.Equal(t, []uintptr{0x2000, 0x3000}, sortedEdges(edges))

	edges, ok = graph.edges(0x2000)
	require.True(t, ok)
	require.Nil(t, edges)

	_, ok = graph.edges(0x9000)
	require.False(t, ok)

	// Adding an existing node keeps its edges
	graph.addNode(0x1000)
	edges, _ = graph.edges(0x1000)
	require.Equal(t, 2, edges.Count())
}

func TestHeapGraphJson(t *testing.T) {
	graph := newHeapGraph(testObjectTable())
	graph.addNode(0x1000)
	graph.addNode(0x2000)
	graph.addEdge(0x1000, 0x2000)
	graph.addEdge(0x800, 0x1000)

	writer := jwriter.NewWriter()
	graph.writeJSON(&writer)
	require.NoError(t, writer.Error())
	require.JSONEq(t, `[
		{"Kind": "R", "Address": "0x800", "References": ["0x1000"]},
		{"Kind": "H", "Address": "0x1000", "References": ["0x2000"]},
		{"Kind": "H", "Address": "0x2000", "References": []}
	]`, string(writer.Bytes()))

	require.Equal(t, slog.KindString, graph.LogValue().Kind())
	require.JSONEq(t, string(writer.Bytes()), graph.LogValue().String())
}

func TestMarkReachable(t *testing.T) {
	allocator := &Allocator{logger: testLogger()}

	graph := newHeapGraph(testObjectTable())
	graph.addNode(0x1000)
	graph.addNode(0x2000)
	graph.addNode(0x3000)
	graph.addEdge(0x1000, 0x2000)
	graph.addEdge(0x2000, 0x1000)
	graph.addEdge(0x900, 0x2000)
	graph.addEdge(0x908, 0x1000)

	visited := allocator.markReachable(graph)
	require.True(t, visited.Has(0x1000))
	require.True(t, visited.Has(0x2000))
	require.False(t, visited.Has(0x3000))
}

func TestMarkReachableDeepChain(t *testing.T) {
	allocator := &Allocator{logger: testLogger()}

	const length = 100000
	objects := make([]objectRange, 0, length)
	for i := 0; i < length; i++ {
		objects = append(objects, objectRange{address: uintptr(0x10000 + i*16), size: 16})
	}

	graph := newHeapGraph(&objectTable{objects: objects})
	for i, object := range objects {
		graph.addNode(object.address)
		if i > 0 {
			graph.addEdge(objects[i-1].address, object.address)
		}
	}
	graph.addEdge(0x100, objects[0].address)

	visited := allocator.markReachable(graph)
	require.Equal(t, length+1, visited.Count())
}

func TestMarkReachableMissingNode(t *testing.T) {
	var logs bytes.Buffer
	allocator := &Allocator{logger: slog.New(slog.NewTextHandler(&logs))}

	graph := newHeapGraph(testObjectTable())
	graph.addNode(0x1000)
	// 0x3000 is referenced but was never added as a node
	graph.addEdge(0x1000, 0x3000)
	graph.addEdge(0x900, 0x1000)

	visited := allocator.markReachable(graph)
	require.True(t, visited.Has(0x1000))
	require.True(t, visited.Has(0x3000))
	require.Contains(t, logs.String(), "traversal node does not exist in the heap graph")
}
