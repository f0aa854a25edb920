package robot

import (
	"context"
	"fmt"
	"time"

	"github.com/shaharia-lab/robomcp/journal"
	"github.com/shaharia-lab/robomcp/mcp"
	"github.com/shaharia-lab/robomcp/observability"
)

// Session is the value shared by every request for one server run.
type Session struct {
	Robot        *Simulator
	Journal      journal.Journal
	StepInterval time.Duration
	logger       observability.Logger
}

// Options configures the device session.
type Options struct {
	MaxPosition  float64
	StepInterval time.Duration // pause between move_sequence steps
	Journal      journal.Config
	Logger       observability.Logger
}

// Lifespan connects to the (simulated) device and opens the command
// journal. Releasing it performs an emergency stop and closes the journal.
func Lifespan(opts Options) mcp.LifespanFunc {
	return func(ctx context.Context) (interface{}, mcp.ReleaseFunc, error) {
		logger := opts.Logger
		if logger == nil {
			logger = observability.NewNullLogger()
		}

		var simOpts []SimulatorOption
		if opts.MaxPosition > 0 {
			simOpts = append(simOpts, WithMaxPosition(opts.MaxPosition))
		}
		sim := NewSimulator(simOpts...)

		j, err := journal.Open(ctx, opts.Journal, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open command journal: %w", err)
		}

		logger.WithFields(map[string]interface{}{
			"joints":       len(sim.Joints()),
			"max_position": sim.MaxPosition(),
			"journal":      opts.Journal.Driver,
		}).Info("Robot session ready")

		session := &Session{
			Robot:        sim,
			Journal:      j,
			StepInterval: opts.StepInterval,
			logger:       logger,
		}

		release := func(ctx context.Context) error {
			sim.EmergencyStop()
			logger.Info("Robot stopped, closing session")
			if err := j.Close(); err != nil {
				return fmt.Errorf("failed to close command journal: %w", err)
			}
			return nil
		}
		return session, release, nil
	}
}

// record appends a journal entry. Failures are logged and never reach the
// caller.
func (s *Session) record(ctx context.Context, entry journal.Entry) {
	if s.Journal == nil {
		return
	}
	if err := s.Journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"tool":  entry.Tool,
			"joint": entry.Joint,
		}).WithErr(err).Warn("Failed to record command")
	}
}
