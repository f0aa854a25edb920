// Package robot is a three joint arm simulator and the MCP resources,
// tools and prompts that drive it.
package robot

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// Joint names tracked by the simulator, in display order.
const (
	ShoulderPitch = "shoulder_pitch"
	ShoulderRoll  = "shoulder_roll"
	ElbowPitch    = "elbow_pitch"
)

// DefaultMaxPosition bounds every joint to [-3.14, 3.14] rad.
const DefaultMaxPosition = 3.14

var (
	ErrUnknownJoint = errors.New("unknown joint")
	ErrOutOfRange   = errors.New("position out of range")
)

// JointState is a snapshot of one joint.
type JointState struct {
	Name     string  `json:"name"`
	Position float64 `json:"position"` // rad
	Velocity float64 `json:"velocity"` // rad/s
	Torque   float64 `json:"torque"`   // Nm
}

// Status is a snapshot of the whole device.
type Status struct {
	Moving      bool    `json:"moving"`
	Battery     float64 `json:"battery"`
	Joints      int     `json:"joints"`
	MaxPosition float64 `json:"max_position"`
}

// Simulator holds the device state shared by every request. Reads take a
// consistent snapshot; mutations are serialized.
type Simulator struct {
	mu          sync.RWMutex
	order       []string
	joints      map[string]*JointState
	moving      bool
	battery     float64
	maxPosition float64
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithMaxPosition sets the absolute joint bound in radians.
func WithMaxPosition(bound float64) SimulatorOption {
	return func(s *Simulator) {
		s.maxPosition = bound
	}
}

// WithBatteryLevel sets the starting battery percentage.
func WithBatteryLevel(level float64) SimulatorOption {
	return func(s *Simulator) {
		s.battery = math.Max(0, math.Min(100, level))
	}
}

// NewSimulator creates a simulator with every joint at 0 rad and a full
// battery.
func NewSimulator(opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		order:       []string{ShoulderPitch, ShoulderRoll, ElbowPitch},
		joints:      make(map[string]*JointState),
		battery:     100,
		maxPosition: DefaultMaxPosition,
	}
	for _, name := range s.order {
		s.joints[name] = &JointState{Name: name}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Joint returns the state of one joint.
func (s *Simulator) Joint(name string) (JointState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.joints[name]
	if !ok {
		return JointState{}, fmt.Errorf("%w: %s", ErrUnknownJoint, name)
	}
	return *j, nil
}

// Joints returns every joint in display order.
func (s *Simulator) Joints() []JointState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JointState, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, *s.joints[name])
	}
	return out
}

// MoveJoint sets a joint's position. A rejected move leaves the state
// untouched.
func (s *Simulator) MoveJoint(name string, position float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.joints[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJoint, name)
	}
	if math.IsNaN(position) || math.Abs(position) > s.maxPosition {
		return fmt.Errorf("%w: %.2f rad outside [%.2f, %.2f]", ErrOutOfRange, position, -s.maxPosition, s.maxPosition)
	}

	j.Position = position
	s.moving = true
	return nil
}

// EmergencyStop zeroes velocity and torque on every joint and clears the
// moving flag. It cannot fail.
func (s *Simulator) EmergencyStop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.joints {
		j.Velocity = 0
		j.Torque = 0
	}
	s.moving = false
}

func (s *Simulator) Battery() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.battery
}

func (s *Simulator) MaxPosition() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxPosition
}

func (s *Simulator) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Moving:      s.moving,
		Battery:     s.battery,
		Joints:      len(s.joints),
		MaxPosition: s.maxPosition,
	}
}
