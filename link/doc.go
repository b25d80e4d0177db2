/*
Package link fetches file descriptors from a descriptor source and publishes
them as symbolic links in the filesystem for as long as a marker file exists.

[Linker.Execute] first checks that neither the publishing parent directory
nor the marker exist yet, then fetches the descriptors and detaches into the
background. The foreground waits for the background to create the marker,
signalling that all symbolic links are in place, and then returns. The
background keeps the descriptors open until someone deletes the marker, and
then removes the published tree and terminates.

Each symbolic link points to “/proc/$PID/fd/$FD” of the background process,
so the links only work as long as the background process is alive.
*/
package link
