/*
Package sanitize confines externally supplied logical paths to a parent
directory.

[Under] is a pure string transformation: it doesn't consult the filesystem, so
it knows nothing about symbolic links, mount points, or case folding. It simply
guarantees that the resulting path is the parent joined with a strictly
descending relative path.
*/
package sanitize
