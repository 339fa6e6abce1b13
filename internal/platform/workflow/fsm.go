// Package workflow provides a small finite-state machine used by every
// module that tracks a status field. A Machine holds the set of legal
// transitions for one status enum; services ask it before persisting a new
// status instead of merging arbitrary values into a record.
package workflow

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownState      = errors.New("unknown status")
)

// TransitionError reports a rejected move between two known states.
type TransitionError struct {
	Machine string
	From    string
	To      string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot move from %q to %q", e.Machine, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Machine is an immutable transition table over a string-backed enum.
type Machine[S ~string] struct {
	name     string
	initial  S
	edges    map[S]map[S]struct{}
	terminal map[S]struct{}
}

// New builds a Machine. Every state that appears in table, either as a key
// or as a target, becomes a valid state. States listed in terminal have no
// outgoing edges even if table names some.
func New[S ~string](name string, initial S, table map[S][]S, terminal ...S) *Machine[S] {
	m := &Machine[S]{
		name:     name,
		initial:  initial,
		edges:    make(map[S]map[S]struct{}),
		terminal: make(map[S]struct{}),
	}
	m.edges[initial] = map[S]struct{}{}
	for from, targets := range table {
		if m.edges[from] == nil {
			m.edges[from] = map[S]struct{}{}
		}
		for _, to := range targets {
			m.edges[from][to] = struct{}{}
			if m.edges[to] == nil {
				m.edges[to] = map[S]struct{}{}
			}
		}
	}
	for _, t := range terminal {
		m.terminal[t] = struct{}{}
		m.edges[t] = map[S]struct{}{}
	}
	return m
}

func (m *Machine[S]) Name() string { return m.name }

// Initial returns the status new records start in.
func (m *Machine[S]) Initial() S { return m.initial }

func (m *Machine[S]) Valid(s S) bool {
	_, ok := m.edges[s]
	return ok
}

func (m *Machine[S]) IsTerminal(s S) bool {
	if _, ok := m.terminal[s]; ok {
		return true
	}
	return m.Valid(s) && len(m.edges[s]) == 0
}

func (m *Machine[S]) Can(from, to S) bool {
	targets, ok := m.edges[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// Transition validates from -> to and returns the new state.
func (m *Machine[S]) Transition(from, to S) (S, error) {
	if !m.Valid(to) {
		return from, fmt.Errorf("%s: %w %q", m.name, ErrUnknownState, string(to))
	}
	if !m.Valid(from) {
		return from, fmt.Errorf("%s: %w %q", m.name, ErrUnknownState, string(from))
	}
	if !m.Can(from, to) {
		return from, &TransitionError{Machine: m.name, From: string(from), To: string(to)}
	}
	return to, nil
}

// Next lists the states reachable from s in one step, sorted.
func (m *Machine[S]) Next(s S) []S {
	out := make([]S, 0, len(m.edges[s]))
	for to := range m.edges[s] {
		out = append(out, to)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// States lists every known state, sorted.
func (m *Machine[S]) States() []S {
	out := make([]S, 0, len(m.edges))
	for s := range m.edges {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
