package core

import (
	"net"

	"github.com/nkaush/go-mcast/pkg/mcast/definition"
	"github.com/nkaush/go-mcast/pkg/mcast/types"
)

// nopLogger discards everything. Used throughout the core package's tests
// so a failing assertion isn't buried in protocol chatter.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{})                   {}
func (nopLogger) Infof(string, ...interface{})                    {}
func (nopLogger) Warnf(string, ...interface{})                    {}
func (nopLogger) Errorf(string, ...interface{})                   {}
func (nopLogger) WithField(string, interface{}) definition.Logger { return nopLogger{} }

// newPipeHandler builds a Handler backed by one end of an in-memory
// net.Pipe, returning the other end so a test can act as the remote peer.
func newPipeHandler(peer types.NodeID, log definition.Logger) (*Handler, net.Conn) {
	local, remote := net.Pipe()
	return NewHandler(peer, local, log, 16), remote
}
