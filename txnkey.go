package lucaskv

import "encoding/binary"

// noTransactionSeq is the reserved sequence value that marks a record as
// written outside any batch (a plain Put/Delete).
const noTransactionSeq uint64 = 0

// txnFinishedKey is the fixed key carried by every TxnFinished marker; only
// its sequence prefix varies per batch.
var txnFinishedKey = []byte("lucaskv-txn-finished")

// withSeqPrefix prepends the varint-encoded transaction sequence to a user
// key, the on-disk key for every record (batched or not -- single-key
// writes use seq 0).
func withSeqPrefix(key []byte, seq uint64) []byte {
	buf := make([]byte, binary.MaxVarintLen64+len(key))
	n := binary.PutUvarint(buf, seq)
	copy(buf[n:], key)
	return buf[:n+len(key)]
}

// splitSeqPrefix separates a stored on-disk key back into its transaction
// sequence and the original user key.
func splitSeqPrefix(key []byte) (userKey []byte, seq uint64) {
	seq, n := binary.Uvarint(key)
	return key[n:], seq
}
