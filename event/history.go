package event

import (
	"encoding/json"

	"github.com/wfunc/gamesync/msg"
)

// Record is one emitted event, keyed by the game state it happened in.
type Record struct {
	Seq  uint64 `json:"seq"`
	Hash string `json:"hash"`
	Type string `json:"type"`
	Args []any  `json:"-"`
}

// recordArg keeps protocol messages typed across a JSON round trip so that
// replayed handlers receive a msg.GameMsg again.
type recordArg struct {
	Msg   *msg.GameMsg    `json:"msg,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

type recordJSON struct {
	Seq  uint64      `json:"seq"`
	Hash string      `json:"hash"`
	Type string      `json:"type"`
	Args []recordArg `json:"args,omitempty"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{Seq: r.Seq, Hash: r.Hash, Type: r.Type}
	for _, a := range r.Args {
		switch v := a.(type) {
		case msg.GameMsg:
			m := v
			out.Args = append(out.Args, recordArg{Msg: &m})
		case *msg.GameMsg:
			out.Args = append(out.Args, recordArg{Msg: v})
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			out.Args = append(out.Args, recordArg{Value: b})
		}
	}
	return json.Marshal(out)
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var in recordJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	r.Seq, r.Hash, r.Type, r.Args = in.Seq, in.Hash, in.Type, nil
	for _, a := range in.Args {
		if a.Msg != nil {
			r.Args = append(r.Args, *a.Msg)
			continue
		}
		var v any
		if len(a.Value) > 0 {
			if err := json.Unmarshal(a.Value, &v); err != nil {
				return err
			}
		}
		r.Args = append(r.Args, v)
	}
	return nil
}

// History is the append-only log of emitted events, indexed by state hash.
type History struct {
	records []Record
	byHash  map[string][]int
	seq     uint64
}

func NewHistory() *History {
	return &History{byHash: make(map[string][]int)}
}

func (h *History) Add(hash, typ string, args []any) Record {
	h.seq++
	r := Record{Seq: h.seq, Hash: hash, Type: typ, Args: append([]any(nil), args...)}
	h.byHash[hash] = append(h.byHash[hash], len(h.records))
	h.records = append(h.records, r)
	return r
}

// Select returns the records for hash in emission order.
func (h *History) Select(hash string) []Record {
	idx := h.byHash[hash]
	out := make([]Record, 0, len(idx))
	for _, i := range idx {
		out = append(out, h.records[i])
	}
	return out
}

func (h *History) Records() []Record {
	return append([]Record(nil), h.records...)
}

func (h *History) Len() int {
	return len(h.records)
}

// Import appends records restored from a saved session, keeping their order
// and renumbering them after the existing ones.
func (h *History) Import(records []Record) {
	for _, r := range records {
		h.Add(r.Hash, r.Type, r.Args)
	}
}

// Reset forgets every record.
func (h *History) Reset() {
	h.records = nil
	h.byHash = make(map[string][]int)
	h.seq = 0
}
