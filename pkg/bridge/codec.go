package bridge

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/lambertxiao/go-vfs/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Request is one message sent to a Worker. Arguments travel serialized,
// the worker never sees caller memory except the response segment.
type Request struct {
	ID   string
	Op   string
	Args []byte
	Seg  *Segment
	// per-handle channel handed over with open and create
	Port chan *Request
}

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type openReply struct {
	Rid int `json:"rid"`
}

type readReply struct {
	Data []byte `json:"data"`
	EOF  bool   `json:"eof,omitempty"`
}

func encodeArgs(args ...interface{}) ([]byte, error) {
	if args == nil {
		args = []interface{}{}
	}
	return json.Marshal(args)
}

// decodeArgs fills dst from a serialized argument list. The count must
// match exactly.
func decodeArgs(op string, raw []byte, dst ...interface{}) error {
	var list []jsoniter.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return &types.FSError{Kind: types.KindInvalidArgument, Op: op, Msg: err.Error()}
	}
	if len(list) != len(dst) {
		return &types.FSError{
			Kind: types.KindInvalidArgument,
			Op:   op,
			Msg:  fmt.Sprintf("want %d arguments, got %d", len(dst), len(list)),
		}
	}
	for i := range list {
		if err := json.Unmarshal(list[i], dst[i]); err != nil {
			return &types.FSError{Kind: types.KindInvalidArgument, Op: op, Msg: err.Error()}
		}
	}
	return nil
}

func encodeError(err error) []byte {
	kind, ok := types.KindOf(err)
	if !ok {
		kind = "Error"
	}
	data, _ := json.Marshal(errorPayload{Kind: string(kind), Message: err.Error()})
	return data
}

func decodeError(payload []byte) error {
	var ep errorPayload
	if err := json.Unmarshal(payload, &ep); err != nil {
		return fmt.Errorf("bad error payload: %w", err)
	}
	return types.NewKindError(ep.Kind, ep.Message)
}
