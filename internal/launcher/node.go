package launcher

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"grimm.is/uqdev/internal/config"
	"grimm.is/uqdev/internal/logging"
)

// NodeInfo is the live counterpart of a config.Node. It owns the child
// process and the pty master until cleanup releases them.
type NodeInfo struct {
	*Process
	Home  string
	Index int
}

// NodeOptions carry what a node launch needs beyond its config.Node.
type NodeOptions struct {
	Binary     string
	RouterPort uint16
	Output     io.Writer
	Logger     *logging.Logger
}

// NodeArgs builds the runtime command line for node.
func NodeArgs(node config.Node, index int, routerPort uint16) []string {
	args := []string{
		node.Home,
		"--port", strconv.Itoa(int(node.Port)),
		"--network-router-port", strconv.Itoa(int(routerPort)),
		"--fake-node-name", node.Name(index),
	}
	if node.Password != nil {
		args = append(args, "--password", *node.Password)
	}
	if node.RPC != nil {
		args = append(args, "--rpc", *node.RPC)
	}
	if node.RuntimeVerbose {
		args = append(args, "--verbose")
	}
	return args
}

// LaunchNode creates the node's home directory if needed and spawns the
// runtime binary for it under a pty.
func LaunchNode(node config.Node, index int, opts NodeOptions) (*NodeInfo, error) {
	name := node.Name(index)
	if err := os.MkdirAll(node.Home, 0o755); err != nil {
		return nil, &LaunchError{Name: name, Reason: ErrHome, Err: err}
	}

	proc, err := Start(name, Options{
		Binary: opts.Binary,
		Args:   NodeArgs(node, index, opts.RouterPort),
		Port:   node.Port,
		Output: opts.Output,
		Logger: opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &NodeInfo{Process: proc, Home: node.Home, Index: index}, nil
}

// URL is the node's local HTTP endpoint.
func (n *NodeInfo) URL() string {
	return fmt.Sprintf("http://localhost:%d", n.Port)
}

func (n *NodeInfo) String() string { return n.Name }

// HomeDir is the node's mutable state root.
func (n *NodeInfo) HomeDir() string { return n.Home }
