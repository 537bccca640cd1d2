package codec

import "hash/crc32"

// crc32Table is built from CRC32Poly once; per §4.1: seed 0xFFFFFFFF,
// inverted final XOR. hash/crc32.ChecksumIEEE already uses exactly this
// polynomial/seed/final-XOR convention, so the table is the stdlib IEEE
// table - kept as an explicit named table here so the persisted-format
// code documents which polynomial it is relying on rather than leaning on
// an unqualified "crc32.ChecksumIEEE".
var crc32Table = crc32.MakeTable(crc32.IEEE)

// CRC32 computes the CRC-32 checksum specified by §4.1: polynomial
// 0xEDB88320, seed 0xFFFFFFFF, inverted final result.
func CRC32(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}
