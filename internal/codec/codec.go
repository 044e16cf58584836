// Package codec encodes aggregate state for snapshots and state tables.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v4"
)

type Codec interface {
	// Name is stored next to encoded data so it can be decoded later.
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
)

type JSONCodec struct{}

func (JSONCodec) Name() string                    { return NameJSON }
func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }

// MsgpackCodec honors `json` struct tags so the same types work with both codecs.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return NameMsgpack }

func (MsgpackCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf).UseJSONTag(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgpackCodec) Unmarshal(b []byte, v any) error {
	return msgpack.NewDecoder(bytes.NewReader(b)).UseJSONTag(true).Decode(v)
}

// ByName returns the codec registered under name. An empty name means JSON.
func ByName(name string) (Codec, error) {
	switch name {
	case "", NameJSON:
		return JSONCodec{}, nil
	case NameMsgpack:
		return MsgpackCodec{}, nil
	}
	return nil, fmt.Errorf("codec: unknown encoding %q", name)
}
