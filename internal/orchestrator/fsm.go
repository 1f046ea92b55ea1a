package orchestrator

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/cuemby/ota-agent/internal/otalog"
	"github.com/cuemby/ota-agent/pkg/otatypes"
)

// machine wraps looplab/fsm with the event-naming scheme
// "goto_<dest-state>": every transition in transitions below becomes
// one fsm.EventDesc entry, and multiple entries sharing a Name but
// differing in Src collapse into a single looplab/fsm event whose
// valid-source set is the union of those Src lists. enter_state is
// wired once, generically, so every transition gets a debug log line
// without a per-state callback.
type machine struct {
	fsm *fsm.FSM
}

// transitions enumerates every (src, dst) edge runSession's
// state-table next() functions can produce (including the wildcard
// EXITING edge any state can take on a STOP verdict).
var transitions = []struct {
	src otatypes.State
	dst otatypes.State
}{
	{otatypes.StateAgentWaiting, otatypes.StateStartUpdate},

	{otatypes.StateStartUpdate, otatypes.StateJobConnect},
	{otatypes.StateStartUpdate, otatypes.StateStorageOpen},
	{otatypes.StateStartUpdate, otatypes.StateAgentWaiting},

	{otatypes.StateJobConnect, otatypes.StateJobDownload},
	{otatypes.StateJobConnect, otatypes.StateAgentWaiting},

	{otatypes.StateJobDownload, otatypes.StateJobDisconnect},

	{otatypes.StateJobDisconnect, otatypes.StateJobParse},
	{otatypes.StateJobDisconnect, otatypes.StateAgentWaiting},

	{otatypes.StateJobParse, otatypes.StateStorageOpen},
	{otatypes.StateJobParse, otatypes.StateJobRedirect},
	{otatypes.StateJobParse, otatypes.StateResultConnect},

	{otatypes.StateJobRedirect, otatypes.StateStorageOpen},
	{otatypes.StateJobRedirect, otatypes.StateResultConnect},

	{otatypes.StateStorageOpen, otatypes.StateDataConnect},
	{otatypes.StateStorageOpen, otatypes.StateResultConnect},

	{otatypes.StateDataConnect, otatypes.StateDataDownload},
	{otatypes.StateDataConnect, otatypes.StateAgentWaiting},

	{otatypes.StateDataDownload, otatypes.StateDataDisconnect},

	{otatypes.StateDataDisconnect, otatypes.StateVerify},
	{otatypes.StateDataDisconnect, otatypes.StateStorageOpen},
	{otatypes.StateDataDisconnect, otatypes.StateResultConnect},

	{otatypes.StateVerify, otatypes.StateResultRedirect},
	{otatypes.StateVerify, otatypes.StateResultConnect},

	{otatypes.StateResultRedirect, otatypes.StateResultConnect},
	{otatypes.StateResultRedirect, otatypes.StateOTAComplete},

	{otatypes.StateResultConnect, otatypes.StateResultSend},
	{otatypes.StateResultConnect, otatypes.StateOTAComplete},

	{otatypes.StateResultSend, otatypes.StateResultResponse},
	{otatypes.StateResultSend, otatypes.StateResultDisconnect},

	{otatypes.StateResultResponse, otatypes.StateResultDisconnect},

	{otatypes.StateResultDisconnect, otatypes.StateOTAComplete},

	{otatypes.StateOTAComplete, otatypes.StateAgentWaiting},
}

// allStates lists every state that can take the wildcard STOP ->
// EXITING edge.
var allStates = []otatypes.State{
	otatypes.StateAgentWaiting, otatypes.StateStartUpdate, otatypes.StateStorageOpen,
	otatypes.StateStorageWrite, otatypes.StateStorageClose, otatypes.StateJobConnect,
	otatypes.StateJobDownload, otatypes.StateJobDisconnect, otatypes.StateJobParse,
	otatypes.StateJobRedirect, otatypes.StateDataConnect, otatypes.StateDataDownload,
	otatypes.StateDataDisconnect, otatypes.StateVerify, otatypes.StateResultRedirect,
	otatypes.StateResultConnect, otatypes.StateResultSend, otatypes.StateResultResponse,
	otatypes.StateResultDisconnect, otatypes.StateOTAComplete,
}

func eventName(dst otatypes.State) string {
	return "goto_" + string(dst)
}

func newMachine() *machine {
	byName := map[string][]string{}
	for _, t := range transitions {
		name := eventName(t.dst)
		byName[name] = append(byName[name], string(t.src))
	}

	exitEvent := eventName(otatypes.StateExiting)
	for _, s := range allStates {
		byName[exitEvent] = append(byName[exitEvent], string(s))
	}

	events := make([]fsm.EventDesc, 0, len(byName))
	for name, sources := range byName {
		dst := name[len("goto_"):]
		events = append(events, fsm.EventDesc{Name: name, Src: sources, Dst: dst})
	}

	callbacks := map[string]fsm.Callback{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			otalog.WithState(e.Dst).Debug().Str("from", e.Src).Msg("state transition")
		},
	}

	return &machine{fsm: fsm.NewFSM(string(otatypes.StateAgentWaiting), events, callbacks)}
}

func (m *machine) current() otatypes.State {
	return otatypes.State(m.fsm.Current())
}

func (m *machine) goTo(ctx context.Context, dst otatypes.State) error {
	return m.fsm.Event(ctx, eventName(dst))
}

// reset returns the machine to AGENT_WAITING between sessions; each
// runSession call starts a fresh pass through the table.
func (m *machine) reset() {
	m.fsm.SetState(string(otatypes.StateAgentWaiting))
}
