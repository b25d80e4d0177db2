/*
Package fdshare hands out working copies of open file descriptors from one
process to other, unrelated processes, which then publish them as symbolic
links somewhere in the filesystem until told to tear them down again.

The “source” side opens the configured files once, listens on an
abstract-namespace unix domain socket (so there's no socket file to clean up),
checks the effective UID of each connecting peer, and then sends the list of
target paths together with the open file descriptors piggybacked as ancillary
data. See the [github.com/thediveo/fdshare/source] package.

The “sink” side connects once, receives and validates the descriptors, then
detaches into the background and publishes one symbolic link per descriptor of
the form “/proc/$PID/fd/$FD”. See the [github.com/thediveo/fdshare/sink] and
[github.com/thediveo/fdshare/link] packages.

Synchronizing with whoever consumes the published links happens solely through
the filesystem: the background process creates a marker file when everything
is in place and removes the published tree when someone else deletes the
marker again. See the [github.com/thediveo/fdshare/rendezvous] package.

# Errors

Errors returned from the packages of this module wrap one of the sentinel
errors defined in this package, so callers can tell, for instance, a failed
precondition from a protocol violation using [errors.Is].

# Trivia

No, the symbolic links do not survive the publishing process. That's the whole
point.
*/
package fdshare
