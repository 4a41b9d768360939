package exchange

import "github.com/uhyunpark/marketplace/pkg/asset"

// FeeSide is the side of a match that funds the protocol fee and royalties.
type FeeSide uint8

const (
	FeeSideNone FeeSide = iota
	FeeSideLeft
	FeeSideRight
)

func (s FeeSide) String() string {
	switch s {
	case FeeSideLeft:
		return "LEFT"
	case FeeSideRight:
		return "RIGHT"
	default:
		return "NONE"
	}
}

// FeeSideOf picks the paying side from the classes of the two make assets.
// ERC20 pays against anything else, then ERC1155 pays against ERC721.
func FeeSideOf(left, right asset.Class) FeeSide {
	for _, payer := range []asset.Class{asset.ClassERC20, asset.ClassERC1155} {
		if left == payer && right != payer {
			return FeeSideLeft
		}
		if right == payer && left != payer {
			return FeeSideRight
		}
	}
	return FeeSideNone
}
