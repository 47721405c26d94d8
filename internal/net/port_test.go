package net

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenLoopback(t *testing.T) {
	l1, p1, err := ListenLoopback()
	require.NoError(t, err)
	defer l1.Close()
	l2, p2, err := ListenLoopback()
	require.NoError(t, err)
	defer l2.Close()

	assert.NotZero(t, p1)
	assert.NotZero(t, p2)
	assert.NotEqual(t, p1, p2)

	conn, err := net.Dial("tcp", LoopbackAddr(p1))
	require.NoError(t, err)
	conn.Close()
}

func TestGetEphemeralTCPPortIsClosed(t *testing.T) {
	port, err := GetEphemeralTCPPort()
	require.NoError(t, err)
	require.NotZero(t, port)

	_, err = net.Dial("tcp", LoopbackAddr(uint16(port)))
	require.Error(t, err)
}
