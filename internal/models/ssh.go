package models

import "time"

// SSHSettings holds connection settings shared by every target.
type SSHSettings struct {
	Port           int           // default port when a target sets none
	ConnectTimeout time.Duration // TCP connect + handshake
	CommandTimeout time.Duration // how long to wait for command output
}

// SSHResult holds the result of an SSH operation.
type SSHResult struct {
	Reachable  bool
	Connected  bool
	CommandRun bool
	Confirmed  bool // elevation prompt observed, guest power-off only
	Output     string
	Error      error
}

// Succeeded reports whether the operation counts as a success.
func (r *SSHResult) Succeeded() bool {
	return r != nil && r.CommandRun && r.Error == nil
}
