package terminal

import "github.com/agusx1211/corral/internal/events"

// PublishTo sets the output and exit sinks to publish session.output and
// session.exit on bus, keeping any sink already set.
func (o *Options) PublishTo(bus *events.Bus) {
	if bus == nil {
		return
	}
	prevOutput, prevExit := o.OnOutput, o.OnExit
	o.OnOutput = func(agentID string, chunk []byte) {
		if prevOutput != nil {
			prevOutput(agentID, chunk)
		}
		bus.Publish(events.Event{
			Topic:   events.SessionOutput,
			AgentID: agentID,
			Data:    events.SessionChunk{Data: string(chunk)},
		})
	}
	o.OnExit = func(agentID string, exitCode int, tail string) {
		if prevExit != nil {
			prevExit(agentID, exitCode, tail)
		}
		bus.Publish(events.Event{
			Topic:   events.SessionExit,
			AgentID: agentID,
			Data:    events.SessionEnded{ExitCode: exitCode, Tail: tail},
		})
	}
}
