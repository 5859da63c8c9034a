package channelstore

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4"
	"github.com/ugorji/go/codec"

	"github.com/otaviootavio/nanomoni/internal/core/channel"
)

// Persistent record layout: a 1-byte compression flag, then for compressed
// records a 4-byte little-endian uncompressed size, then the msgpack body.
// PayTree proofs dominate record size, so records above the threshold go
// through lz4.
const (
	flagRaw        = 0x00
	flagLZ4        = 0x01
	minCompressLen = 256
)

var msgpackHandle codec.MsgpackHandle

// storedRecord is the serialized form of a channel. The state union is
// flattened into one optional field per variant; exactly one is set.
type storedRecord struct {
	Channel   channel.Channel         `codec:"channel"`
	Signature *channel.SignatureState `codec:"signature_state,omitempty"`
	Payword   *channel.PaywordState   `codec:"payword_state,omitempty"`
	Paytree   *channel.PaytreeState   `codec:"paytree_state,omitempty"`
}

func encodeRecord(ch *channel.Channel) ([]byte, error) {
	rec := storedRecord{Channel: *ch}
	switch s := ch.State.(type) {
	case *channel.SignatureState:
		rec.Signature = s
	case *channel.PaywordState:
		rec.Payword = s
	case *channel.PaytreeState:
		rec.Paytree = s
	case nil:
	default:
		return nil, fmt.Errorf("%w: unknown state variant", ErrDataCorrupt)
	}

	var body []byte
	enc := codec.NewEncoderBytes(&body, &msgpackHandle)
	if err := enc.Encode(&rec); err != nil {
		return nil, err
	}

	if len(body) < minCompressLen {
		return append([]byte{flagRaw}, body...), nil
	}

	compressed := make([]byte, lz4.CompressBlockBound(len(body)))
	n, err := lz4.CompressBlock(body, compressed, nil)
	if err != nil || n == 0 || n >= len(body) {
		// Incompressible or failed; store raw.
		return append([]byte{flagRaw}, body...), nil
	}

	out := make([]byte, 0, 5+n)
	out = append(out, flagLZ4)
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], uint32(len(body)))
	out = append(out, size[:]...)
	out = append(out, compressed[:n]...)
	return out, nil
}

func decodeRecord(data []byte) (*channel.Channel, error) {
	if len(data) < 1 {
		return nil, ErrDataCorrupt
	}

	var body []byte
	switch data[0] {
	case flagRaw:
		body = data[1:]
	case flagLZ4:
		if len(data) < 5 {
			return nil, ErrDataCorrupt
		}
		size := binary.LittleEndian.Uint32(data[1:5])
		body = make([]byte, size)
		n, err := lz4.UncompressBlock(data[5:], body)
		if err != nil || uint32(n) != size {
			return nil, fmt.Errorf("%w: lz4 decompression failed", ErrDataCorrupt)
		}
	default:
		return nil, fmt.Errorf("%w: unknown record flag 0x%02x", ErrDataCorrupt, data[0])
	}

	var rec storedRecord
	dec := codec.NewDecoderBytes(body, &msgpackHandle)
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataCorrupt, err)
	}

	ch := rec.Channel
	switch {
	case rec.Signature != nil:
		ch.State = rec.Signature
	case rec.Payword != nil:
		ch.State = rec.Payword
	case rec.Paytree != nil:
		ch.State = rec.Paytree
	}
	return &ch, nil
}
