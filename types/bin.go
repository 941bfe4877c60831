package types

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// ToBin serializes the tokens as a little-endian stream, 4 bytes per token
// when wide is set and 2 bytes otherwise.
func (tokens Tokens) ToBin(wide bool) ([]byte, error) {
	if wide {
		return tokens.toBin32()
	}
	return tokens.toBin16()
}

func (tokens Tokens) toBin16() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, len(tokens)*2))
	for idx := range tokens {
		id := tokens[idx]
		if id > 65535 {
			return nil, errors.Errorf(
				"token id %d does not fit in an unsigned 16-bit stream", id)
		}
		if err := binary.Write(buf, binary.LittleEndian, uint16(id)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (tokens Tokens) toBin32() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, len(tokens)*4))
	for idx := range tokens {
		if err := binary.Write(buf, binary.LittleEndian, uint32(tokens[idx])); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// TokensFromBin decodes a little-endian 16-bit token stream.
func TokensFromBin(bin []byte) Tokens {
	tokens := make(Tokens, 0, len(bin)/2)
	buf := bytes.NewReader(bin)
	for {
		var id uint16
		if err := binary.Read(buf, binary.LittleEndian, &id); err != nil {
			break
		}
		tokens = append(tokens, Token(id))
	}
	return tokens
}

// TokensFromBin32 decodes a little-endian 32-bit token stream.
func TokensFromBin32(bin []byte) Tokens {
	tokens := make(Tokens, 0, len(bin)/4)
	buf := bytes.NewReader(bin)
	for {
		var id uint32
		if err := binary.Read(buf, binary.LittleEndian, &id); err != nil {
			break
		}
		tokens = append(tokens, Token(id))
	}
	return tokens
}
