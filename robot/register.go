package robot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/shaharia-lab/robomcp/journal"
	"github.com/shaharia-lab/robomcp/mcp"
)

// Resource URIs and names registered by Register.
const (
	URIAllJoints = "robot://joints/all"
	URIJoint     = "robot://joints/{joint_name}"
	URIBattery   = "robot://status/battery"
	URISummary   = "robot://status/summary"
	URIHistory   = "robot://history/recent"

	ToolMoveJointTo   = "move_joint_to"
	ToolEmergencyStop = "emergency_stop"
	ToolMoveSequence  = "move_sequence"

	PromptDiagnose = "diagnose_robot"
)

const historyLimit = 20

var errNoSession = errors.New("robot session is not available")

// Register adds the robot's resources, tools and prompts to reg. Handlers
// expect the lifespan value produced by Lifespan.
func Register(reg *mcp.Registry) error {
	resources := []struct {
		pattern string
		handler mcp.ResourceHandler
		opts    []mcp.EntryOption
	}{
		{URIAllJoints, readAllJoints, []mcp.EntryOption{
			mcp.WithName("all_joints"), mcp.WithDescription("State of every joint"), mcp.WithMimeType("text/plain"),
		}},
		{URIJoint, readJoint, []mcp.EntryOption{
			mcp.WithName("joint"), mcp.WithDescription("State of one joint"), mcp.WithMimeType("text/plain"),
		}},
		{URIBattery, readBattery, []mcp.EntryOption{
			mcp.WithName("battery"), mcp.WithDescription("Battery level"), mcp.WithMimeType("text/plain"),
		}},
		{URISummary, readSummary, []mcp.EntryOption{
			mcp.WithName("summary"), mcp.WithDescription("Moving flag, battery and joint count"), mcp.WithMimeType("text/plain"),
		}},
		{URIHistory, readHistory, []mcp.EntryOption{
			mcp.WithName("history"), mcp.WithDescription("Most recent commands, newest first"), mcp.WithMimeType("text/plain"),
		}},
	}
	for _, r := range resources {
		if err := reg.RegisterResource(r.pattern, r.handler, r.opts...); err != nil {
			return err
		}
	}

	if err := reg.RegisterTool(ToolMoveJointTo, []mcp.ParamSpec{
		mcp.RequiredParam("joint_name", mcp.ParamString, "Joint to move (shoulder_pitch, shoulder_roll, elbow_pitch)"),
		mcp.RequiredParam("position", mcp.ParamNumber, "Target position in radians"),
	}, moveJointTo, mcp.WithDescription("Move one joint to a position")); err != nil {
		return err
	}

	if err := reg.RegisterTool(ToolEmergencyStop, nil, emergencyStop,
		mcp.WithDescription("Immediately stop the robot")); err != nil {
		return err
	}

	if err := reg.RegisterTool(ToolMoveSequence, []mcp.ParamSpec{
		mcp.RequiredParam("positions", mcp.ParamNumberList, "Target positions in radians, applied in order"),
		mcp.OptionalParam("joint_name", mcp.ParamString, ShoulderPitch, "Joint to move"),
	}, moveSequence, mcp.WithDescription("Move a joint through a sequence of positions, reporting progress")); err != nil {
		return err
	}

	return reg.RegisterPrompt(PromptDiagnose, []mcp.ParamSpec{
		mcp.OptionalParam("component", mcp.ParamString, "all", "Component to check: all, joints or battery"),
	}, diagnosePrompt, mcp.WithDescription("Step by step robot diagnostics"))
}

func session(rc *mcp.RequestContext) (*Session, error) {
	s, ok := mcp.LifespanAs[*Session](rc)
	if !ok || s == nil {
		return nil, errNoSession
	}
	return s, nil
}

func readAllJoints(rc *mcp.RequestContext, _ map[string]string) (string, error) {
	s, err := session(rc)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("=== ALL JOINTS ===\n\n")
	for _, j := range s.Robot.Joints() {
		fmt.Fprintf(&b, "%s:\n", j.Name)
		fmt.Fprintf(&b, "   position: %.3f rad\n", j.Position)
		fmt.Fprintf(&b, "   velocity: %.3f rad/s\n", j.Velocity)
		fmt.Fprintf(&b, "   torque: %.2f Nm\n\n", j.Torque)
	}
	return b.String(), nil
}

// readJoint renders an unknown joint as an error line rather than failing
// the read.
func readJoint(rc *mcp.RequestContext, captures map[string]string) (string, error) {
	s, err := session(rc)
	if err != nil {
		return "", err
	}

	j, err := s.Robot.Joint(captures["joint_name"])
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	return fmt.Sprintf("Joint: %s\nposition: %.3f rad\nvelocity: %.3f rad/s\ntorque: %.2f Nm",
		j.Name, j.Position, j.Velocity, j.Torque), nil
}

func batteryIcon(level float64) string {
	switch {
	case level > 80:
		return "[full]"
	case level > 20:
		return "[ok]"
	default:
		return "[low]"
	}
}

func readBattery(rc *mcp.RequestContext, _ map[string]string) (string, error) {
	s, err := session(rc)
	if err != nil {
		return "", err
	}
	level := s.Robot.Battery()
	return fmt.Sprintf("%s Battery: %.1f%%", batteryIcon(level), level), nil
}

func readSummary(rc *mcp.RequestContext, _ map[string]string) (string, error) {
	s, err := session(rc)
	if err != nil {
		return "", err
	}
	st := s.Robot.Status()
	return fmt.Sprintf("moving: %t\nbattery: %.1f%%\njoints: %d\nmax position: %.2f rad",
		st.Moving, st.Battery, st.Joints, st.MaxPosition), nil
}

func readHistory(rc *mcp.RequestContext, _ map[string]string) (string, error) {
	s, err := session(rc)
	if err != nil {
		return "", err
	}

	entries, err := s.Journal.Recent(rc.Context(), historyLimit)
	if err != nil {
		return "", fmt.Errorf("failed to read command history: %w", err)
	}
	if len(entries) == 0 {
		return "no commands recorded", nil
	}

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s %s", e.At.Format("2006-01-02T15:04:05Z07:00"), e.Tool)
		if e.Joint != "" {
			fmt.Fprintf(&b, " %s=%.2f", e.Joint, e.Position)
		}
		fmt.Fprintf(&b, " %s", e.Outcome)
		if e.Detail != "" {
			fmt.Fprintf(&b, ": %s", e.Detail)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func moveJointTo(rc *mcp.RequestContext, args mcp.Arguments) (string, error) {
	s, err := session(rc)
	if err != nil {
		return "", err
	}
	name, position := args.String("joint_name"), args.Float("position")

	_ = rc.Info(fmt.Sprintf("moving %s to %.2f rad", name, position))

	entry := journal.Entry{Tool: ToolMoveJointTo, Joint: name, Position: position}
	if err := s.Robot.MoveJoint(name, position); err != nil {
		_ = rc.Error(fmt.Sprintf("validation failed: %v", err))
		entry.Outcome, entry.Detail = journal.OutcomeRejected, err.Error()
		s.record(rc.Context(), entry)
		return "", mcp.ValidationError("%v", err)
	}

	entry.Outcome = journal.OutcomeOK
	s.record(rc.Context(), entry)
	_ = rc.Info("move completed")
	return fmt.Sprintf("joint %s moved to %.2f rad", name, position), nil
}

func emergencyStop(rc *mcp.RequestContext, _ mcp.Arguments) (string, error) {
	s, err := session(rc)
	if err != nil {
		return "", err
	}

	_ = rc.Warning("EXECUTING EMERGENCY STOP")
	s.Robot.EmergencyStop()
	s.record(rc.Context(), journal.Entry{Tool: ToolEmergencyStop, Outcome: journal.OutcomeOK})
	_ = rc.Info("robot stopped safely")

	return "EMERGENCY STOP executed, robot halted", nil
}

// moveSequence reports progress before each step and stops at the first
// rejected position. Steps are paced by StepInterval and the request may be
// cancelled between steps, never during one.
func moveSequence(rc *mcp.RequestContext, args mcp.Arguments) (string, error) {
	s, err := session(rc)
	if err != nil {
		return "", err
	}
	positions, name := args.Floats("positions"), args.String("joint_name")
	total := len(positions)

	limit := rate.Inf
	if s.StepInterval > 0 {
		limit = rate.Every(s.StepInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	_ = rc.Info(fmt.Sprintf("starting sequence of %d moves on %s", total, name))

	for i, pos := range positions {
		step := i + 1
		if err := waitStep(rc.Context(), limiter); err != nil {
			s.record(rc.Context(), journal.Entry{
				Tool: ToolMoveSequence, Joint: name, Position: pos,
				Outcome: journal.OutcomeCancelled, Detail: fmt.Sprintf("before step %d/%d", step, total),
			})
			return "", fmt.Errorf("sequence cancelled before step %d/%d: %w", step, total, err)
		}

		msg := fmt.Sprintf("move %d/%d: %.2f rad", step, total, pos)
		if err := rc.ReportProgress(float64(step)/float64(total), 1.0, msg); err != nil {
			rc.Logger().WithErr(err).Warn("Failed to report sequence progress")
		}

		if err := s.Robot.MoveJoint(name, pos); err != nil {
			_ = rc.Error(fmt.Sprintf("move %d failed: %v", step, err))
			s.record(rc.Context(), journal.Entry{
				Tool: ToolMoveSequence, Joint: name, Position: pos,
				Outcome: journal.OutcomeRejected, Detail: fmt.Sprintf("step %d/%d: %v", step, total, err),
			})
			return "", mcp.ValidationError("sequence aborted at step %d/%d: %v", step, total, err)
		}

		s.record(rc.Context(), journal.Entry{Tool: ToolMoveSequence, Joint: name, Position: pos, Outcome: journal.OutcomeOK})
		_ = rc.Debug(fmt.Sprintf("completed move %d: %.2f rad", step, pos))
	}

	_ = rc.Info("sequence completed")
	return fmt.Sprintf("executed sequence of %d moves", total), nil
}

func waitStep(ctx context.Context, limiter *rate.Limiter) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}
	if err := limiter.Wait(ctx); err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return err
	}
	return nil
}
