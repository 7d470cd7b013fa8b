package sui

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	bin "github.com/gagliardetto/binary"
)

// AddressLength is the byte length of Sui addresses and object ids.
const AddressLength = 32

// Address is a Sui address or object id.
type Address [AddressLength]byte

// String renders a as 0x-prefixed lowercase hex.
func (a Address) String() string { return "0x" + hex.EncodeToString(a[:]) }

// reader decodes the BCS subset used by TransactionData. BCS is Borsh
// with ULEB128 length prefixes.
type reader struct {
	dec *bin.Decoder
}

func newReader(data []byte) *reader { return &reader{dec: bin.NewBinDecoder(data)} }

func (r *reader) len() (int, error) {
	n, err := r.dec.ReadUvarint64()
	if err != nil {
		return 0, err
	}
	if n > uint64(r.dec.Remaining()) {
		return 0, fmt.Errorf("length %d exceeds remaining %d bytes", n, r.dec.Remaining())
	}
	return int(n), nil
}

func (r *reader) tag() (uint64, error) { return r.dec.ReadUvarint64() }

func (r *reader) u8() (uint8, error) { return r.dec.ReadUint8() }

func (r *reader) u16() (uint16, error) { return r.dec.ReadUint16(binary.LittleEndian) }

func (r *reader) u64() (uint64, error) { return r.dec.ReadUint64(binary.LittleEndian) }

func (r *reader) bytes() ([]byte, error) {
	n, err := r.len()
	if err != nil {
		return nil, err
	}
	return r.dec.ReadNBytes(n)
}

func (r *reader) str() (string, error) {
	b, err := r.bytes()
	return string(b), err
}

func (r *reader) address() (Address, error) {
	var a Address
	b, err := r.dec.ReadNBytes(AddressLength)
	if err != nil {
		return a, err
	}
	copy(a[:], b)
	return a, nil
}

func (r *reader) skip(n int) error {
	_, err := r.dec.ReadNBytes(n)
	return err
}

// objectRef skips (ObjectID, SequenceNumber, ObjectDigest).
func (r *reader) objectRef() error {
	if err := r.skip(AddressLength + 8); err != nil {
		return err
	}
	_, err := r.bytes()
	return err
}

// typeTag skips a TypeTag.
func (r *reader) typeTag(depth int) error {
	if depth > 16 {
		return fmt.Errorf("type tag nested too deeply")
	}
	t, err := r.tag()
	if err != nil {
		return err
	}
	switch t {
	case 0, 1, 2, 3, 4, 5, 8, 9, 10:
		return nil
	case 6:
		return r.typeTag(depth + 1)
	case 7:
		if err := r.skip(AddressLength); err != nil {
			return err
		}
		if _, err := r.str(); err != nil {
			return err
		}
		if _, err := r.str(); err != nil {
			return err
		}
		n, err := r.len()
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := r.typeTag(depth + 1); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown type tag %d", t)
}
