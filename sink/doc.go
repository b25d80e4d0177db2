/*
Package sink fetches working copies of open file descriptors together with
their target paths from a descriptor source.

Fetched descriptors never occupy the standard descriptors 0 to 2 and have
their close-on-exec flag cleared, so they survive re-executing the current
process.
*/
package sink
