//go:build stdjson

package json

import (
	"encoding/json"
)

type RawMessage = json.RawMessage

var (
	Marshal       = json.Marshal
	MarshalIndent = json.MarshalIndent
	Unmarshal     = json.Unmarshal
)
