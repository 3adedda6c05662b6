package service

import (
	"encoding/json"

	"connectrpc.com/connect"
)

// JSONCodec serializes the race messages, which are plain Go structs, with
// encoding/json. It is registered under the "json" name so it replaces the
// protobuf JSON codec on both ends.
type JSONCodec struct{}

var _ connect.Codec = JSONCodec{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (JSONCodec) Unmarshal(data []byte, msg any) error {
	return json.Unmarshal(data, msg)
}
