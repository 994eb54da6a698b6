package image

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal serializes a Snapshot to canonical CBOR bytes.
func Marshal(s *Snapshot) ([]byte, error) {
	data, err := cborEncMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("image: marshal snapshot: %w", err)
	}
	return data, nil
}

// Unmarshal deserializes a Snapshot from CBOR bytes and checks its
// version and node references.
func Unmarshal(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("image: unmarshal snapshot: %w", err)
	}
	if s.Version != Version {
		return nil, corruptf("version %d", s.Version)
	}
	if s.Root < -1 || s.Root >= len(s.Nodes) {
		return nil, corruptf("root %d with %d nodes", s.Root, len(s.Nodes))
	}
	for i, n := range s.Nodes {
		for _, sl := range n.Slots {
			if sl.Kind == SlotPage && (sl.Node <= i || sl.Node >= len(s.Nodes)) {
				return nil, corruptf("node %d refers to node %d", i, sl.Node)
			}
		}
	}
	return &s, nil
}
