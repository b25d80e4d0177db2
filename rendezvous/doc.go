/*
Package rendezvous synchronizes independent processes solely through the
existence of a marker file.

A [Watch] waits for a marker to become created or deleted, using filesystem
change notifications on the marker's directory filtered to the marker's name.
Every watch first checks whether its condition already holds before waiting for
future events, closing the race between checking and registering the watch: a
watch for a marker that already exists is satisfied immediately, and so is a
watch for the deletion of a marker that doesn't exist (anymore).

Establish a watch before doing whatever might trigger the condition, and only
then wait on it:

	w, err := rendezvous.NewWatch(marker, rendezvous.Created)
	if err != nil {
	    return err
	}
	defer w.Close()
	// ...kick off whatever eventually creates the marker...
	if err := w.Wait(ctx); err != nil {
	    return err
	}

Waits are unbounded unless the passed context carries a deadline or gets
cancelled.
*/
package rendezvous
