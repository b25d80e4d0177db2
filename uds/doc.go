/*
Package uds supports transferring open file descriptors across process
boundaries using sequenced-packet unix domain sockets, either bound to names in
the abstract namespace or as peer-to-peer pairs.

Sequenced-packet sockets are connection-oriented, so it's possible to detect
when the “other” side has disconnected, while at the same time they preserve
message boundaries, so it's possible to detect truncated messages.

Abstract names have no representation in the filesystem, so there is nothing
to unlink after use and nothing that would need file access permissions.
Instead, servers check the credentials of connecting peers using
[Conn.PeerCredentials].

# Trivia

“[UDS]” is short for “unix domain socket”.

[UDS]: https://en.wikipedia.org/wiki/Unix_domain_socket
*/
package uds
