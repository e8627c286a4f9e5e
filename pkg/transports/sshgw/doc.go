// Package sshgw provides an SSH-based instrument gateway client. The
// gateway is a shore-side process that relays instrument commands onto
// the platform network; this package reaches it over SSH, issues one
// gateway CLI invocation per command, and implements the engine's
// InstrumentClient interface so a mission run can drive real
// instruments. It also retrieves archived sample files from the
// gateway over SFTP.
package sshgw
