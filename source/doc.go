/*
Package source serves working copies of a fixed set of open file descriptors
to any number of clients connecting via an abstract unix domain socket.

A [Source] opens the source paths of its bindings once when starting to serve
and keeps them open until serving ends. Each connecting client must run with
the configured effective UID, otherwise its connection gets dropped without
sending anything. Dropping a client doesn't affect serving other clients.
*/
package source
