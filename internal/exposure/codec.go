package exposure

import (
	"bytes"
	"encoding/gob"

	"ivquant/internal/errors"
)

func encodeSnapshot(v interface{}) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func decodeSnapshot(b []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(v); err != nil {
		return errors.Wrap(err, "decoding model snapshot")
	}
	return nil
}
