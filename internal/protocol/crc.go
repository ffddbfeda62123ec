package protocol

// crcTable holds CRC16-CCITT (polynomial 0x1021) remainders for every byte.
var crcTable [256]uint16

func init() {
	for i := range crcTable {
		crc := uint16(i) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		crcTable[i] = crc
	}
}

// crcInit is the CRC16-CCITT starting value.
const crcInit uint16 = 0xFFFF

// CRC16 returns the CRC16-CCITT (0x1021, init 0xFFFF, no reflection, no
// final xor) of data.
func CRC16(data []byte) uint16 {
	return updateCRC(crcInit, data)
}

func updateCRC(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>8)^b]
	}
	return crc
}
