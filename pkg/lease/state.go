package lease

import "fmt"

type State uint8

const (
	Stopped           State = 0
	WaitBeforeStart   State = 1
	Running           State = 2
	WaitBeforeRenewal State = 3
	Polling           State = 4
)

var stateNames = []string{
	"Stopped", "WaitBeforeStart", "Running", "WaitBeforeRenewal", "Polling",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

type IPVersion uint8

const (
	IPv4 IPVersion = 1
	IPv6 IPVersion = 2
)

func (v IPVersion) String() string {
	switch v {
	case IPv4:
		return "v4"
	case IPv6:
		return "v6"
	}
	return fmt.Sprintf("IPVersion(%d)", v)
}

func (v IPVersion) Valid() bool {
	return v == IPv4 || v == IPv6
}

// ParseIPVersion accepts "4", "v4", "ipv4" and the v6 equivalents.
func ParseIPVersion(s string) (IPVersion, error) {
	switch s {
	case "4", "v4", "ipv4", "IPv4":
		return IPv4, nil
	case "6", "v6", "ipv6", "IPv6":
		return IPv6, nil
	}
	return 0, fmt.Errorf("unknown ip version %q", s)
}

type Command uint8

const (
	CmdStartLease Command = iota + 1
	CmdStopLease
	CmdRenewLease
	CmdPreLeaseActionComplete
	CmdReconfigureIPVersion
	CmdRegisterPreLeaseNotification
	cmdGetResultsPoll
	cmdQuit
	cmdSync
)

var commandNames = map[Command]string{
	CmdStartLease:                   "StartLease",
	CmdStopLease:                    "StopLease",
	CmdRenewLease:                   "RenewLease",
	CmdPreLeaseActionComplete:       "PreLeaseActionComplete",
	CmdReconfigureIPVersion:         "ReconfigureIPVersion",
	CmdRegisterPreLeaseNotification: "RegisterPreLeaseNotification",
	cmdGetResultsPoll:               "GetResultsPoll",
	cmdQuit:                         "Quit",
	cmdSync:                         "Sync",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", c)
}

type NotificationKind uint8

const (
	PreLeaseAction NotificationKind = iota + 1
	PostLeaseAction
	OnQuit
)

func (k NotificationKind) String() string {
	switch k {
	case PreLeaseAction:
		return "PreLeaseAction"
	case PostLeaseAction:
		return "PostLeaseAction"
	case OnQuit:
		return "OnQuit"
	}
	return fmt.Sprintf("NotificationKind(%d)", k)
}

type Outcome uint8

const (
	Success Outcome = 1
	Failure Outcome = 2
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	}
	return fmt.Sprintf("Outcome(%d)", o)
}

// Notification is what the machine sends to its controller. Result is only
// set on a successful PostLeaseAction and is a private copy.
type Notification struct {
	Kind      NotificationKind
	Interface string
	Version   IPVersion
	Outcome   Outcome
	Result    *Result
}
