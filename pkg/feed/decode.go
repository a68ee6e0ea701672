package feed

import (
	"github.com/cockroachdb/errors"
	"sigs.k8s.io/json"

	"github.com/cloudant/quimby/types"
)

// DecodeObject parses one self-contained JSON object. Integers are
// decoded as int64 so sequence numbers survive unchanged.
func DecodeObject(text string) (map[string]any, error) {
	var obj map[string]any
	if err := json.UnmarshalCaseSensitivePreserveInts([]byte(text), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("not a JSON object")
	}
	return obj, nil
}

// decodeCheckpoint parses a reconstructed last_seq object.
func decodeCheckpoint(text string) (*types.Checkpoint, error) {
	obj, err := DecodeObject(text)
	if err != nil {
		return nil, err
	}
	seq, ok := obj["last_seq"]
	if !ok {
		return nil, errors.New("missing last_seq")
	}
	cp := &types.Checkpoint{LastSeq: seq}
	if pending, ok := obj["pending"]; ok {
		n, ok := pending.(int64)
		if !ok {
			return nil, errors.Newf("pending is %T, not an integer", pending)
		}
		cp.Pending = &n
	}
	return cp, nil
}
