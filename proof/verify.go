package proof

import "github.com/DIG-Network/digstore-min/digerr"

// Verify dispatches to the kind-specific verifier named by p.Kind. It
// is the entry point an offline verifier uses when it only has the
// proof document and doesn't already know what kind it's holding.
func Verify(p Proof) (bool, error) {
	switch p.Kind {
	case KindFile:
		return VerifyFile(p)
	case KindChunk:
		return VerifyChunk(p)
	case KindByteRange:
		return VerifyByteRange(p)
	case KindLayer:
		return VerifyLayer(p)
	default:
		return false, digerr.New(digerr.InvalidInput, "proof: unknown kind "+string(p.Kind))
	}
}
