package robot

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestNewSimulator(t *testing.T) {
	sim := NewSimulator()

	joints := sim.Joints()
	require.Len(t, joints, 3)
	assert.Equal(t, []string{ShoulderPitch, ShoulderRoll, ElbowPitch}, []string{joints[0].Name, joints[1].Name, joints[2].Name})
	for _, j := range joints {
		assert.Zero(t, j.Position)
	}
	assert.Equal(t, 100.0, sim.Battery())
	assert.Equal(t, Status{Moving: false, Battery: 100, Joints: 3, MaxPosition: DefaultMaxPosition}, sim.Status())
}

func TestSimulator_MoveJoint(t *testing.T) {
	tests := []struct {
		name     string
		joint    string
		position float64
		wantErr  error
		wantPos  float64
	}{
		{name: "within range", joint: ShoulderPitch, position: 1.57, wantPos: 1.57},
		{name: "upper bound inclusive", joint: ElbowPitch, position: 3.14, wantPos: 3.14},
		{name: "lower bound inclusive", joint: ShoulderRoll, position: -3.14, wantPos: -3.14},
		{name: "above bound", joint: ShoulderPitch, position: 3.15, wantErr: ErrOutOfRange},
		{name: "far below bound", joint: ShoulderPitch, position: -10, wantErr: ErrOutOfRange},
		{name: "not a number", joint: ShoulderPitch, position: math.NaN(), wantErr: ErrOutOfRange},
		{name: "unknown joint", joint: "wrist_yaw", position: 0.1, wantErr: ErrUnknownJoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := NewSimulator()
			err := sim.MoveJoint(tt.joint, tt.position)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, sim.Status().Moving)
				for _, j := range sim.Joints() {
					assert.Zero(t, j.Position, "rejected move must not change %s", j.Name)
				}
				return
			}

			require.NoError(t, err)
			j, err := sim.Joint(tt.joint)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPos, j.Position)
			assert.True(t, sim.Status().Moving)
		})
	}
}

func TestSimulator_CustomBound(t *testing.T) {
	sim := NewSimulator(WithMaxPosition(1.0), WithBatteryLevel(150))
	assert.ErrorIs(t, sim.MoveJoint(ShoulderPitch, 1.5), ErrOutOfRange)
	assert.NoError(t, sim.MoveJoint(ShoulderPitch, 1.0))
	assert.Equal(t, 100.0, sim.Battery())

	assert.Equal(t, 0.0, NewSimulator(WithBatteryLevel(-5)).Battery())
}

func TestSimulator_EmergencyStop(t *testing.T) {
	sim := NewSimulator()
	require.NoError(t, sim.MoveJoint(ElbowPitch, 2.0))

	sim.mu.Lock()
	for _, j := range sim.joints {
		j.Velocity = 1.2
		j.Torque = -4.5
	}
	sim.mu.Unlock()

	sim.EmergencyStop()
	sim.EmergencyStop()

	st := sim.Status()
	assert.False(t, st.Moving)
	for _, j := range sim.Joints() {
		assert.Zero(t, j.Velocity)
		assert.Zero(t, j.Torque)
	}
	elbow, err := sim.Joint(ElbowPitch)
	require.NoError(t, err)
	assert.Equal(t, 2.0, elbow.Position, "emergency stop holds position")
}

func TestSimulator_ConcurrentAccess(t *testing.T) {
	sim := NewSimulator()

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		i := i
		g.Go(func() error {
			name := []string{ShoulderPitch, ShoulderRoll, ElbowPitch}[i%3]
			pos := float64(i%7) / 7
			if err := sim.MoveJoint(name, pos); err != nil {
				return err
			}
			if i%10 == 0 {
				sim.EmergencyStop()
			}
			for _, j := range sim.Joints() {
				if math.Abs(j.Position) > DefaultMaxPosition {
					return fmt.Errorf("joint %s out of bounds: %v", j.Name, j.Position)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, sim.Joints(), 3)
}
