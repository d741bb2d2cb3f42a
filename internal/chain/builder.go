package chain

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/lumo-chat/lumo_pay/internal/fees"
)

// txEncodingVersion prefixes every payload so nodes can reject encodings they
// do not understand.
const txEncodingVersion = "lumopay/tx/1"

// TxRequest describes the value movement a transaction should perform.
type TxRequest struct {
	Network     string
	From        string
	To          string
	Asset       string
	Amount      int64
	Correlation string
}

// UnsignedTx is a fully assembled transaction awaiting signature.
type UnsignedTx struct {
	Request  TxRequest
	Sequence uint64
	Bid      fees.Bid

	payload []byte
}

// Build assembles the canonical wire payload for a transaction. It is pure
// and deterministic: identical (request, sequence, bid) inputs always produce
// identical bytes, which is what makes resubmission with the same sequence
// number safe.
func Build(req TxRequest, sequence uint64, bid fees.Bid) (UnsignedTx, error) {
	if req.Network == "" || req.From == "" || req.To == "" || req.Asset == "" {
		return UnsignedTx{}, fmt.Errorf("network, from, to and asset are required")
	}
	if req.Amount <= 0 {
		return UnsignedTx{}, fmt.Errorf("amount must be positive")
	}

	var buf bytes.Buffer
	writeString(&buf, txEncodingVersion)
	writeString(&buf, req.Network)
	writeString(&buf, req.From)
	writeString(&buf, req.To)
	writeString(&buf, req.Asset)
	writeUint64(&buf, uint64(req.Amount))
	writeUint64(&buf, sequence)
	writeString(&buf, bid.Model)
	writeUint64(&buf, uint64(bid.UnitPrice))
	writeUint64(&buf, uint64(bid.BaseFee))
	writeUint64(&buf, uint64(bid.PriorityFee))
	writeString(&buf, req.Correlation)

	return UnsignedTx{Request: req, Sequence: sequence, Bid: bid, payload: buf.Bytes()}, nil
}

// Payload returns the canonical unsigned bytes.
func (tx UnsignedTx) Payload() []byte {
	return tx.payload
}

// SigningHash returns the digest the custodial key signs.
func (tx UnsignedTx) SigningHash() []byte {
	sum := sha256.Sum256(tx.payload)
	return sum[:]
}

// EncodeSigned appends the signature envelope to the unsigned payload,
// producing the raw bytes submitted to the network.
func EncodeSigned(tx UnsignedTx, sig Signature) []byte {
	var buf bytes.Buffer
	buf.Write(tx.payload)
	writeBytes(&buf, sig.PublicKey)
	writeBytes(&buf, sig.Bytes)
	return buf.Bytes()
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(b)))
	buf.Write(length[:])
	buf.Write(b)
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], v)
	buf.Write(raw[:])
}
