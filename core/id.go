package core

// KGDPass is the known-good-die byte of a device that passed test
const KGDPass = 0x5D

// ID is the 64-bit identifier returned by read-id, first byte on the wire in
// the most significant position
type ID uint64

// DecodeID wraps the raw 64-bit read-id response
func DecodeID(raw uint64) ID {
	return ID(raw)
}

// Raw returns the identifier as read
func (id ID) Raw() uint64 {
	return uint64(id)
}

// VendorKGD returns bits 48-63: manufacturer id and known-good-die byte
func (id ID) VendorKGD() uint16 {
	return uint16(id >> 48)
}

// Manufacturer returns the first id byte (bits 56-63)
func (id ID) Manufacturer() byte {
	return byte(id >> 56)
}

// KGD returns the known-good-die byte (bits 48-55)
func (id ID) KGD() byte {
	return byte(id >> 48)
}

// EID returns the 48-bit electronic id (bits 0-47)
func (id ID) EID() uint64 {
	return uint64(id) & (1<<48 - 1)
}

// Good reports whether the known-good-die byte reads as pass
func (id ID) Good() bool {
	return id.KGD() == KGDPass
}

func (id ID) String() string {
	return "vendor/kgd=0x" + hex64(uint64(id.VendorKGD()), 4) + " eid=0x" + hex64(id.EID(), 12)
}
