package ledger

import (
	"encoding/binary"
	"hash"

	blake2b "github.com/minio/blake2b-simd"
)

// Transaction digest, computed as a tree of personalized BLAKE2b-256 hashes:
//
//	header_digest = H("zkpayTxHeadrHash", sender || nonce)
//	call_digest   = H("zkpayTxCallHash_", contract || function || args_digest)
//	args_digest   = H("zkpayTxArgsHash_", len(arg) || arg ...)
//	txid          = H("zkpayTxHash_____", header_digest || call_digest)
const (
	TxHashPersonalization       = "zkpayTxHash_____"
	HeaderDigestPersonalization = "zkpayTxHeadrHash"
	CallDigestPersonalization   = "zkpayTxCallHash_"
	ArgsDigestPersonalization   = "zkpayTxArgsHash_"
)

// Call is a contract invocation.
type Call struct {
	Contract string   // contract address
	Function string   // entry point name
	Args     []string // 0x hex ledger field elements
}

// Transaction is a signed call.
type Transaction struct {
	Sender    string // account address
	Nonce     uint64
	Call      Call
	PublicKey []byte // compressed secp256k1 key of Sender
	Signature []byte // DER ECDSA over TxID
}

// blake2bNew256 creates a BLAKE2b-256 hash with the given personalization.
func blake2bNew256(personalization string) hash.Hash {
	h, err := blake2b.New(&blake2b.Config{Size: 32, Person: []byte(personalization)})
	if err != nil {
		// Only possible with a personalization longer than 16 bytes.
		panic(err)
	}
	return h
}

// TxID computes the transaction digest that is signed.
func (tx *Transaction) TxID() [32]byte {
	header := blake2bNew256(HeaderDigestPersonalization)
	writeBytes(header, []byte(tx.Sender))
	var nonce [8]byte
	binary.LittleEndian.PutUint64(nonce[:], tx.Nonce)
	header.Write(nonce[:])

	args := blake2bNew256(ArgsDigestPersonalization)
	for _, a := range tx.Call.Args {
		writeBytes(args, []byte(a))
	}

	call := blake2bNew256(CallDigestPersonalization)
	writeBytes(call, []byte(tx.Call.Contract))
	writeBytes(call, []byte(tx.Call.Function))
	call.Write(args.Sum(nil))

	root := blake2bNew256(TxHashPersonalization)
	root.Write(header.Sum(nil))
	root.Write(call.Sum(nil))

	var id [32]byte
	copy(id[:], root.Sum(nil))
	return id
}

// writeBytes writes a length-prefixed byte string so that adjacent fields
// cannot be confused.
func writeBytes(h hash.Hash, b []byte) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(b)))
	h.Write(n[:])
	h.Write(b)
}

// Sign fills Sender, PublicKey and Signature from key.
func (tx *Transaction) Sign(key *PrivateKey) {
	pub := key.PublicKey()
	tx.Sender = pub.Address()
	tx.PublicKey = pub.Bytes()
	tx.Signature = key.Sign(tx.TxID())
}

// VerifySignature checks that the sender is a well-formed address and that
// the transaction is signed by it.
func (tx *Transaction) VerifySignature() bool {
	if ValidateAddress(tx.Sender) != nil {
		return false
	}
	pub, err := ParsePublicKey(tx.PublicKey)
	if err != nil {
		return false
	}
	if pub.Address() != tx.Sender {
		return false
	}
	return VerifySignature(pub, tx.TxID(), tx.Signature)
}
