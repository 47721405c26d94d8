/*
Package rpc is the authenticated request surface shared by the broker and the content server.

Every endpoint is plain HTTP on a loopback port behind an auth.Gate:

  - GET /handshake is upgraded to a WebSocket carrying JSON messages. The client sends
    HandshakeRequest messages and the server answers each with exactly one HandshakeResponse,
    in the order the requests arrived. The exchange ends when the client closes the connection.
  - POST /frontends asks the broker to spawn one more front end (broker only).
  - GET /heartbeat reports that the endpoint is alive and which role serves it.

The content server answers handshakes itself. The broker relays each message through its own
handshake stream with the content server and tags the reply, which proves the whole chain is
connected and authenticated.
*/
package rpc
