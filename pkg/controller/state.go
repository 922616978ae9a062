package controller

// State is the arbitration role of the controller.
type State int32

const (
	Initial State = iota
	Sensing
	BroadcastingStationID
	Master
	SlaveWaitingToJoin
	SlaveJoining
	Slave
	SlaveWaitingForFirstToken
	Error

	numStates = iota
)

var stateNames = [numStates]string{
	Initial:                   "Initial",
	Sensing:                   "Sensing",
	BroadcastingStationID:     "BroadcastingStationID",
	Master:                    "Master",
	SlaveWaitingToJoin:        "SlaveWaitingToJoin",
	SlaveJoining:              "SlaveJoining",
	Slave:                     "Slave",
	SlaveWaitingForFirstToken: "SlaveWaitingForFirstToken",
	Error:                     "Error",
}

func (s State) String() string {
	if s < 0 || s >= numStates {
		return "State(?)"
	}
	return stateNames[s]
}

// Ready reports whether a node in state s takes part in token passing.
func (s State) Ready() bool {
	return s == Master || s == BroadcastingStationID || s == Slave
}
