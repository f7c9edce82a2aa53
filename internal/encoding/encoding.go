// Package encoding provides serialization utilities for persisted hash slots.
//
// A persisted slot is a little-endian key word (8 bytes) followed by a
// little-endian counter of CounterLen bytes (1-8). The key word carries the
// occupied marker in its top bit, exactly as the in-memory array does.
package encoding

import "encoding/binary"

// KeyWordSize is the size of the key word that starts every slot.
const KeyWordSize = 8

// SlotSize returns the persisted size of one slot for the given counter length.
func SlotSize(counterLen int) int {
	return KeyWordSize + counterLen
}

// MaxCount returns the largest count representable in counterLen bytes.
func MaxCount(counterLen int) uint64 {
	if counterLen >= 8 {
		return ^uint64(0)
	}
	return uint64(1)<<(counterLen*8) - 1
}

// WriteCounter writes v as a little-endian counter of counterLen bytes.
// v must already be clamped to MaxCount(counterLen).
// Precondition: len(dst) >= counterLen.
func WriteCounter(dst []byte, v uint64, counterLen int) {
	switch counterLen {
	case 1:
		dst[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(dst, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(dst, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(dst, v)
	default:
		for i := range counterLen {
			dst[i] = byte(v >> (i * 8))
		}
	}
}

// ReadCounter reads a little-endian counter of counterLen bytes from src.
// This is the read counterpart to WriteCounter.
func ReadCounter(src []byte, counterLen int) uint64 {
	switch counterLen {
	case 1:
		return uint64(src[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(src))
	case 4:
		return uint64(binary.LittleEndian.Uint32(src))
	case 8:
		return binary.LittleEndian.Uint64(src)
	default:
		var v uint64
		for i := range counterLen {
			v |= uint64(src[i]) << (i * 8)
		}
		return v
	}
}

// WriteSlot writes the slot at position pos of a packed slot region.
// The count is saturated to MaxCount(counterLen).
func WriteSlot(buf []byte, pos int, counterLen int, keyWord, count uint64) {
	off := pos * SlotSize(counterLen)
	binary.LittleEndian.PutUint64(buf[off:], keyWord)
	if m := MaxCount(counterLen); count > m {
		count = m
	}
	WriteCounter(buf[off+KeyWordSize:], count, counterLen)
}

// ReadSlot reads the key word and count at position pos of a packed slot region.
func ReadSlot(buf []byte, pos int, counterLen int) (keyWord, count uint64) {
	off := pos * SlotSize(counterLen)
	keyWord = binary.LittleEndian.Uint64(buf[off:])
	count = ReadCounter(buf[off+KeyWordSize:], counterLen)
	return keyWord, count
}

// ReadKeyWord reads only the key word at position pos. Lookups use it to
// skip decoding counters of slots that hold other keys.
func ReadKeyWord(buf []byte, pos int, counterLen int) uint64 {
	return binary.LittleEndian.Uint64(buf[pos*SlotSize(counterLen):])
}
