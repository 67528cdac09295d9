package variable

import (
	"log"
	"os"
	"os/user"
	"path"
	"time"
)

var (
	// ConfigBaseDir - the project config dir
	ConfigBaseDir string
	// SSHHostKeyFileName - simple ssh rsa private key file name
	SSHHostKeyFileName string = "ssh_host_rsa_key"
)

// Protocol tunables. These are vars, not consts, so tests can shrink them.
var (
	// MaxSegmentSize - max payload bytes of one DATA segment
	MaxSegmentSize uint16 = 1200
	// SendWindowCapacity - local send window capacity, in fragments
	SendWindowCapacity uint16 = 256
	// RecvWindowCapacity - local receive window capacity, in fragments.
	// The advertised `window` field counts free fragment slots of this window.
	RecvWindowCapacity uint16 = 256
	// RTODefault - retransmission timeout before any RTT sample exists
	RTODefault time.Duration = 3 * time.Second
	// RTOMin - retransmission timeout floor
	RTOMin time.Duration = 100 * time.Millisecond
	// RTOMax - retransmission timeout ceiling, also caps exponential backoff
	RTOMax time.Duration = 60 * time.Second
	// ClockGranularity - the estimator never trusts variance below this
	ClockGranularity time.Duration = 10 * time.Millisecond
	// MaxRetries - retransmissions per fragment before the session dies
	MaxRetries int = 5
	// FastRetransmitDupThreshold - duplicate NACKs before fast retransmit
	FastRetransmitDupThreshold int = 3
	// TickInterval - period of the retransmission timer loop
	TickInterval time.Duration = 20 * time.Millisecond
	// CloseTimeout - max time to wait in Closing for the peer's ack
	CloseTimeout time.Duration = 5 * time.Second
	// IdleTimeout - a session without any inbound segment for this long dies
	IdleTimeout time.Duration = 60 * time.Second
	// HeartbeatInterval - PING period on an otherwise idle session
	HeartbeatInterval time.Duration = 10 * time.Second
	// MaxSessions - session table capacity, datagrams beyond it are dropped
	MaxSessions int = 256
	// WriteQueueLimit - max buffered not-yet-fragmented bytes per session
	WriteQueueLimit int = 64 * 1024
)

func init() {
	u, err := user.Current()
	if err != nil {
		log.Fatalf("Error: %s\n", err.Error())
		os.Exit(1)
	}
	ConfigBaseDir = path.Join(u.HomeDir, ".udpstream")
}
