package remote

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// LooseString decodes an identifier that a gateway may send as a JSON
// string or a JSON number. Numbers keep their literal text so 42 becomes
// "42". Null, booleans, objects and arrays decode to the empty string.
type LooseString string

func (s *LooseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*s = ""
		return nil
	}
	switch data[0] {
	case '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = LooseString(v)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*s = LooseString(n.String())
	default:
		*s = ""
	}
	return nil
}

// LooseBool decodes a flag with JavaScript truthiness: false, null, 0, ""
// and a missing field are false, every other value is true.
type LooseBool bool

func (b *LooseBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*b = false
		return nil
	}
	switch data[0] {
	case 'n', 'f':
		*b = false
	case 't', '{', '[':
		*b = true
	case '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*b = v != ""
	default:
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return err
		}
		*b = f != 0
	}
	return nil
}
