package asset

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Class identifies the token standard an asset belongs to.
type Class uint8

const (
	ClassUnknown Class = iota
	ClassERC20
	ClassERC721
	ClassERC1155
)

var classIDs = map[Class][4]byte{
	ClassERC20:   classID("ERC20"),
	ClassERC721:  classID("ERC721"),
	ClassERC1155: classID("ERC1155"),
}

// classID is bytes4(keccak256(name)), the on-chain asset class tag.
func classID(name string) [4]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(name))
	var id [4]byte
	copy(id[:], h.Sum(nil)[:4])
	return id
}

func (c Class) String() string {
	switch c {
	case ClassERC20:
		return "ERC20"
	case ClassERC721:
		return "ERC721"
	case ClassERC1155:
		return "ERC1155"
	default:
		return "UNKNOWN"
	}
}

// ID returns the 4-byte class tag. ok is false for unknown classes.
func (c Class) ID() (id [4]byte, ok bool) {
	id, ok = classIDs[c]
	return id, ok
}

func (c Class) Valid() bool {
	_, ok := classIDs[c]
	return ok
}

// ParseClass accepts the class name, case-insensitive.
func ParseClass(s string) (Class, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERC20":
		return ClassERC20, nil
	case "ERC721":
		return ClassERC721, nil
	case "ERC1155":
		return ClassERC1155, nil
	}
	return ClassUnknown, fmt.Errorf("%w: %q", ErrInvalidAssetClass, s)
}

// ClassFromID maps an on-chain class tag back to its Class.
func ClassFromID(id [4]byte) (Class, error) {
	for c, cid := range classIDs {
		if cid == id {
			return c, nil
		}
	}
	return ClassUnknown, fmt.Errorf("%w: 0x%x", ErrInvalidAssetClass, id[:])
}
