/*
Package procfd deals with references to open file descriptors of processes in
the form of “/proc/$PID/fd/$FD” paths.

Such references stay valid only as long as the referenced process is alive and
keeps the file descriptor open. Package procfd thus never caches anything:
each query goes to procfs again.
*/
package procfd
