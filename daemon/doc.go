/*
Package daemon detaches the current process into the background by
re-executing itself as a new session leader.

As the Go runtime cannot be forked, [Daemon.Detach] instead starts a fresh
copy of the current executable with the same arguments. The copy inherits a
small opaque state blob as well as a set of open files, gets its stdout and
stderr redirected to a log file, and its stdin to /dev/null. When the fresh
copy later reaches the very same Detach call, it learns that it now runs in
the background and picks up the handed-off state and files.

	res, err := d.Detach(func() (*daemon.Handoff, error) {
	    // validate and fetch whatever the background needs...
	})
	if err != nil { ... }
	switch res.Outcome {
	case daemon.StillForeground:
	    // wait for the background to signal readiness...
	case daemon.NowBackground:
	    // do the background work, using res.Handoff...
	}
*/
package daemon
