package search

import "fmt"

// Outcome tells the caller how to continue after one step.
type Outcome int

const (
	// Continue moves on to the next page or candidate.
	Continue Outcome = iota
	// StopChannel abandons the current channel or partition; the task goes on.
	StopChannel
	// StopTask abandons the remaining work for the task.
	StopTask
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case StopChannel:
		return "stop_channel"
	case StopTask:
		return "stop_task"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// CrawlState is the transient cursor for one task. It is rebuilt for every
// task and never persisted.
type CrawlState struct {
	TaskIndex       int
	FilterIndex     int
	TotalPartitions int
	MinRank         int
	MaxRank         int
	// Cursor is the after_id token of the last page; empty means first page.
	Cursor    string
	PageIndex int
	// ResultsSeen counts candidates processed for the task across partitions.
	ResultsSeen int
	// PartitionSeen counts hits seen in the current partition.
	PartitionSeen int
	// ReportedTotal is the count the backend returned with the last page.
	ReportedTotal int
}

// NewState returns the state for the task at index.
func NewState(taskIndex int) CrawlState {
	return CrawlState{TaskIndex: taskIndex}
}

// enterPartition resets the per-partition fields.
func (s CrawlState) enterPartition(index, total int, p Partition) CrawlState {
	s.FilterIndex = index
	s.TotalPartitions = total
	s.MinRank = p.Min
	s.MaxRank = p.Max
	s.Cursor = ""
	s.PageIndex = 0
	s.PartitionSeen = 0
	s.ReportedTotal = 0
	return s
}

// Partition is an inclusive rank range.
type Partition struct {
	Min int
	Max int
}

// Partitions tiles [0, maxValue) into contiguous inclusive ranges of width
// step. The final range is clipped to maxValue-1. A non-positive step yields
// a single full-width range.
func Partitions(maxValue, step int) []Partition {
	if maxValue <= 0 {
		return nil
	}
	if step <= 0 || step >= maxValue {
		return []Partition{{Min: 0, Max: maxValue - 1}}
	}
	out := make([]Partition, 0, (maxValue+step-1)/step)
	for lo := 0; lo < maxValue; lo += step {
		hi := lo + step - 1
		if hi > maxValue-1 {
			hi = maxValue - 1
		}
		out = append(out, Partition{Min: lo, Max: hi})
	}
	return out
}
