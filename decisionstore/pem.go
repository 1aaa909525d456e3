package decisionstore

import "encoding/pem"

// pemEncode wraps raw key bytes in a PEM block, matching the on-disk key
// format the reference design expects. This repo only writes the keys;
// nothing in it reads them back.
func pemEncode(blockType string, key []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: key})
}
