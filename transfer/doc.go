/*
Package transfer implements the wire format for handing out a list of logical
target paths together with a parallel list of open file descriptors.

A single transfer consists of three sequenced packets:

  - the length in bytes of the serialized target path list, as a native-endian
    unsigned integer of the native word size,
  - the number of file descriptors, in the same integer format,
  - the serialized target path list as the packet payload, with the file
    descriptors attached as SCM_RIGHTS ancillary data.

The target path list is serialized as a CBOR array. [Receive] insists on exact
byte and descriptor counts, so any mismatch is a protocol violation and never
a partial result.
*/
package transfer
