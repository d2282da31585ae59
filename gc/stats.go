package gc

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/rgc/memutils"
	"github.com/vkngwrapper/rgc/memutils/metadata"
)

// CalculateStatistics fills stats with the current state of every live block. stats is cleared
// first.
func (a *Allocator) CalculateStatistics(stats *memutils.DetailedStatistics) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	stats.Clear()
	a.registry.AddDetailedStatistics(stats)
}

func writeDetailedStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("BlockCount").Int(stats.BlockCount)
	json.Name("BlockBytes").Int(stats.BlockBytes)
	json.Name("RequestedBytes").Int(stats.RequestedBytes)

	if stats.BlockCount > 0 {
		json.Name("RequestSizeMin").Int(stats.RequestSizeMin)
		json.Name("RequestSizeMax").Int(stats.RequestSizeMax)
		json.Name("SlackSizeMin").Int(stats.SlackSizeMin)
		json.Name("SlackSizeMax").Int(stats.SlackSizeMax)
	}
}

// BuildStatsString returns a json document describing the allocator's live blocks: totals,
// a breakdown per size class and, if detailedMap is true, every block ordered by address
func (a *Allocator) BuildStatsString(detailedMap bool) string {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	classes := a.sizeClasses.Classes()
	perClass := make(map[int]*memutils.DetailedStatistics, len(classes))
	for _, classSize := range classes {
		stats := &memutils.DetailedStatistics{}
		stats.Clear()
		perClass[classSize] = stats
	}

	var total memutils.DetailedStatistics
	total.Clear()

	_ = a.registry.VisitAllBlocks(func(block *metadata.Block) error {
		total.AddBlock(block.ClassSize, block.RequestedSize)
		if stats, ok := perClass[block.ClassSize]; ok {
			stats.AddBlock(block.ClassSize, block.RequestedSize)
		}
		return nil
	})

	writer := jwriter.NewWriter()
	root := writer.Object()

	totalObj := root.Name("Total").Object()
	writeDetailedStatistics(&totalObj, &total)
	totalObj.End()

	classArray := root.Name("SizeClasses").Array()
	for _, classSize := range classes {
		classObj := classArray.Object()
		classObj.Name("ClassSize").Int(classSize)
		writeDetailedStatistics(&classObj, perClass[classSize])
		classObj.End()
	}
	classArray.End()

	if detailedMap {
		registryObj := root.Name("Registry").Object()
		a.registry.BlockJsonData(&registryObj)
		blocks := registryObj.Name("Blocks").Array()
		a.registry.PrintDetailedMap(&blocks)
		blocks.End()
		registryObj.End()
	}

	root.End()

	return string(writer.Bytes())
}
