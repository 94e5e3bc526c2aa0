// Package snapshot encodes the complete state of one database into a single
// self-describing blob, and decodes it back.
//
// # File Format
//
// All integers are little-endian.
//
//	Offset  Size  Field
//	0       5     Magic ("SECDB")
//	5       1     Format version (currently 1)
//	6       1     Codec (see [Codec])
//	7       1     Flags (reserved, must be zero)
//	8       n     Payload, compressed as a whole by the codec
//	8+n     4     CRC-32 (Castagnoli) of bytes [0, 8+n)
//
// The uncompressed payload holds two length-prefixed JSON sections in a fixed
// order: the schema (table name and ordered column names, in table order)
// followed by the rows (table name and ordered rows, in table order).
//
// Any truncation, checksum mismatch or structural inconsistency makes [Decode]
// return an error wrapping [ErrCorrupt]. Decode never returns partial state.
package snapshot
