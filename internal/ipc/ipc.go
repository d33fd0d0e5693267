// Package ipc is the daemon's local control channel: a unix socket
// speaking one JSON message per connection. capri-ctl is the client.
package ipc

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
)

const SocketPath = "/tmp/capri.sock"

type ControlMessage struct {
	Cmd string `json:"cmd"`
}

type Reply struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Handler processes one control command and returns what to tell the
// client.
type Handler func(ControlMessage) Reply

func StartServer(handler Handler) error {
	os.Remove(SocketPath)

	ln, err := net.Listen("unix", SocketPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				continue
			}
			go handleConn(conn, handler)
		}
	}()

	return nil
}

func handleConn(conn net.Conn, handler Handler) {
	defer conn.Close()

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		return
	}
	reply := handler(msg)
	_ = json.NewEncoder(conn).Encode(reply)
}

// SendCommand dials the daemon, sends one command, and returns its reply.
func SendCommand(cmd string) (Reply, error) {
	conn, err := net.Dial("unix", SocketPath)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(ControlMessage{Cmd: cmd}); err != nil {
		return Reply{}, err
	}

	var reply Reply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return Reply{}, err
	}
	return reply, nil
}
