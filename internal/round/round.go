// Package round derives shared betting rounds from wall-clock time.
// Nothing here is stored; every caller computing a round for the same family
// and instant gets the same answer.
package round

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrInvalidSchedule = errors.New("invalid round schedule")
	ErrUnknownFamily   = errors.New("unknown round family")
)

// Schedule is the configured cadence of one round-based game family.
type Schedule struct {
	Family string
	Epoch  time.Duration // round length
	Lock   time.Duration // betting closes this long before the round ends
}

// Validate checks epoch > 0, lock >= 0 and lock < epoch.
func (s Schedule) Validate() error {
	switch {
	case s.Family == "":
		return fmt.Errorf("%w: empty family", ErrInvalidSchedule)
	case s.Epoch.Milliseconds() <= 0:
		return fmt.Errorf("%w: %s epoch must be >= 1ms", ErrInvalidSchedule, s.Family)
	case s.Lock < 0:
		return fmt.Errorf("%w: %s lock must be >= 0", ErrInvalidSchedule, s.Family)
	case s.Lock >= s.Epoch:
		return fmt.Errorf("%w: %s lock must be shorter than epoch", ErrInvalidSchedule, s.Family)
	}
	return nil
}

// Round is one time slice of a family. Times are unix milliseconds.
type Round struct {
	Family          string `json:"family"`
	ID              int64  `json:"roundId"`
	EpochMs         int64  `json:"epochLengthMs"`
	LockMs          int64  `json:"bettingLockMs"`
	OpensAt         int64  `json:"opensAt"`
	ClosesAt        int64  `json:"closesAt"`
	BettingClosesAt int64  `json:"bettingClosesAt"`
}

// At returns the round containing now.
func (s Schedule) At(now time.Time) Round {
	return s.ByID(floorDiv(now.UnixMilli(), s.Epoch.Milliseconds()))
}

// ByID returns the round with the given id.
func (s Schedule) ByID(id int64) Round {
	epoch := s.Epoch.Milliseconds()
	lock := s.Lock.Milliseconds()
	opens := id * epoch
	closes := opens + epoch
	return Round{
		Family:          s.Family,
		ID:              id,
		EpochMs:         epoch,
		LockMs:          lock,
		OpensAt:         opens,
		ClosesAt:        closes,
		BettingClosesAt: closes - lock,
	}
}

// IsBettingOpen reports now < BettingClosesAt.
func (r Round) IsBettingOpen(now time.Time) bool {
	return now.UnixMilli() < r.BettingClosesAt
}

// IsClosed reports whether the round has ended, i.e. its outcome may be shown.
func (r Round) IsClosed(now time.Time) bool {
	return now.UnixMilli() >= r.ClosesAt
}

// Phase is a display helper: open, locked or closed.
func (r Round) Phase(now time.Time) string {
	switch {
	case r.IsClosed(now):
		return "closed"
	case r.IsBettingOpen(now):
		return "open"
	default:
		return "locked"
	}
}

// Previous returns the round just before r.
func (r Round) Previous() Round {
	s := Schedule{Family: r.Family, Epoch: time.Duration(r.EpochMs) * time.Millisecond, Lock: time.Duration(r.LockMs) * time.Millisecond}
	return s.ByID(r.ID - 1)
}

// floorDiv rounds toward negative infinity so instants before 1970 still
// fall into the round that contains them.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Scheduler holds the schedules of every round-based family. It is immutable
// after construction and safe for concurrent use.
type Scheduler struct {
	schedules map[string]Schedule
}

// NewScheduler validates every schedule. A bad or duplicated schedule is a
// startup error.
func NewScheduler(schedules ...Schedule) (*Scheduler, error) {
	m := make(map[string]Schedule, len(schedules))
	for _, s := range schedules {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := m[s.Family]; dup {
			return nil, fmt.Errorf("%w: duplicate family %s", ErrInvalidSchedule, s.Family)
		}
		m[s.Family] = s
	}
	return &Scheduler{schedules: m}, nil
}

// Current returns the round of family containing now.
func (s *Scheduler) Current(family string, now time.Time) (Round, bool) {
	sch, ok := s.schedules[family]
	if !ok {
		return Round{}, false
	}
	return sch.At(now), true
}

// Round returns round id of family.
func (s *Scheduler) Round(family string, id int64) (Round, bool) {
	sch, ok := s.schedules[family]
	if !ok {
		return Round{}, false
	}
	return sch.ByID(id), true
}

// Schedule returns the configured schedule of family.
func (s *Scheduler) Schedule(family string) (Schedule, bool) {
	sch, ok := s.schedules[family]
	return sch, ok
}

// Families lists scheduled families in name order.
func (s *Scheduler) Families() []string {
	out := make([]string, 0, len(s.schedules))
	for f := range s.schedules {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
