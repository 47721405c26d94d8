package net

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// LoopbackHost is the host every session endpoint binds to and dials.
const LoopbackHost = "127.0.0.1"

var ErrBindFailed = errors.New("bind failed")

// ListenLoopback binds an ephemeral TCP port on the loopback interface.
func ListenLoopback() (net.Listener, uint16, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(LoopbackHost, "0"))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: listening on loopback: %s", ErrBindFailed, err)
	}
	return listener, uint16(listener.Addr().(*net.TCPAddr).Port), nil
}

// LoopbackAddr returns the dialable host:port for a loopback port.
func LoopbackAddr(port uint16) string {
	return net.JoinHostPort(LoopbackHost, strconv.Itoa(int(port)))
}

// GetEphemeralTCPPort returns a port that was free a moment ago and has nothing listening on it.
func GetEphemeralTCPPort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(LoopbackHost, "0"))
	if err != nil {
		return 0, fmt.Errorf("resolving %s:0: %w", LoopbackHost, err)
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}
