// Package master carries the leadership status the reader consults.
// The actual election protocol lives outside this process; everything
// here is a plain status holder.
package master

import "sync/atomic"

// Status is a settable leadership flag. An external coordination layer
// flips it; the reader and API layer only read it.
type Status struct {
	leader atomic.Bool
}

// NewStatus returns a Status with the given initial leadership flag.
func NewStatus(leader bool) *Status {
	s := &Status{}
	s.leader.Store(leader)
	return s
}

func (s *Status) IsLeader() bool {
	return s.leader.Load()
}

// SetLeader updates the leadership flag.
func (s *Status) SetLeader(leader bool) {
	s.leader.Store(leader)
}

// Standalone reports permanent leadership, for single-node deployments
// with no coordination layer.
type Standalone struct{}

func (Standalone) IsLeader() bool { return true }
