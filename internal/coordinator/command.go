package coordinator

import "time"

type CommandType string

const (
	CommandPause    CommandType = "PAUSE"
	CommandResume   CommandType = "RESUME"
	CommandShutdown CommandType = "SHUTDOWN"
)

// Command travels from the coordinator to one agent's command channel.
type Command struct {
	Type     CommandType
	Reason   string
	IssuedAt time.Time
}

type controlType string

const (
	controlPauseAgent    controlType = "PAUSE_AGENT"
	controlResumeAgent   controlType = "RESUME_AGENT"
	controlShutdownAgent controlType = "SHUTDOWN_AGENT"
	controlPauseAll      controlType = "PAUSE_ALL"
	controlResumeAll     controlType = "RESUME_ALL"
)

type controlMsg struct {
	typ     controlType
	agentID string
	reason  string
}
