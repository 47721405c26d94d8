/*
Package process spawns the session's child processes and owns them for their whole lifetime.

There are two ways to start a child:

 1. Handshake spawn, for the content server. The parent writes "<token>\n" to the child's stdin and
    reads exactly one line from its stdout, which must be a non-zero port number. Anything else
    (EOF, garbage, "0", or a timeout) kills the child and fails the launch. Output after the port
    line is drained and logged at debug level.
 2. Argument spawn, for front ends. Connection parameters go on the command line and the launch
    succeeds as soon as the OS accepts it.

Every child is placed in its own process group, and on Linux is also sent SIGKILL if the
parent dies, so a coordinator that crashes does not leave orphans behind. A Handle must still be
released with Close on every normal exit path; Close kills the whole group and reaps the child.
*/
package process
