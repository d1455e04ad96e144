package models

import "time"

// PingSettings controls the reachability probe.
type PingSettings struct {
	Count      int
	Timeout    time.Duration // overall, for all probes
	Privileged bool          // raw ICMP sockets instead of unprivileged UDP ping
}
