package memutils

import "math"

// Statistics summarizes the blocks tracked by an allocator
type Statistics struct {
	// BlockCount is the number of live blocks
	BlockCount int
	// BlockBytes is the number of bytes reserved for live blocks, i.e. the sum of their class sizes
	BlockBytes int
	// RequestedBytes is the number of bytes callers asked for across all live blocks
	RequestedBytes int
}

func (s *Statistics) Clear() {
	s.BlockCount = 0
	s.BlockBytes = 0
	s.RequestedBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.BlockCount += other.BlockCount
	s.BlockBytes += other.BlockBytes
	s.RequestedBytes += other.RequestedBytes
}

// AddBlock records a single live block
func (s *Statistics) AddBlock(classSize, requestedSize int) {
	s.BlockCount++
	s.BlockBytes += classSize
	s.RequestedBytes += requestedSize
}

// DetailedStatistics extends Statistics with the spread of request sizes and of the slack
// each block's size class leaves beyond what was requested
type DetailedStatistics struct {
	Statistics
	RequestSizeMin int
	RequestSizeMax int
	SlackSizeMin   int
	SlackSizeMax   int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.RequestSizeMin = math.MaxInt
	s.RequestSizeMax = 0
	s.SlackSizeMin = math.MaxInt
	s.SlackSizeMax = 0
}

func (s *DetailedStatistics) AddBlock(classSize, requestedSize int) {
	s.Statistics.AddBlock(classSize, requestedSize)

	if requestedSize < s.RequestSizeMin {
		s.RequestSizeMin = requestedSize
	}

	if requestedSize > s.RequestSizeMax {
		s.RequestSizeMax = requestedSize
	}

	slack := classSize - requestedSize
	if slack < s.SlackSizeMin {
		s.SlackSizeMin = slack
	}

	if slack > s.SlackSizeMax {
		s.SlackSizeMax = slack
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)

	if other.RequestSizeMin < s.RequestSizeMin {
		s.RequestSizeMin = other.RequestSizeMin
	}

	if other.RequestSizeMax > s.RequestSizeMax {
		s.RequestSizeMax = other.RequestSizeMax
	}

	if other.SlackSizeMin < s.SlackSizeMin {
		s.SlackSizeMin = other.SlackSizeMin
	}

	if other.SlackSizeMax > s.SlackSizeMax {
		s.SlackSizeMax = other.SlackSizeMax
	}
}
