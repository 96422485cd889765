package veo

import (
	jsoniter "github.com/json-iterator/go"
)

var jsonDebug = jsoniter.ConfigCompatibleWithStandardLibrary

// DumpJSON renders v as an indented JSON string for debug output (the
// example CLI's -dump flag), using json-iterator rather than encoding/json
// for the faster common path when dumping large option/attribute structs.
func DumpJSON(v any) (string, error) {
	b, err := jsonDebug.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ProcSnapshot is the JSON-friendly view DumpJSON renders for a Proc: its
// identity, node, and the state of every context currently open on it.
type ProcSnapshot struct {
	ProcID   int             `json:"proc_id"`
	NodeID   int             `json:"node_id"`
	Contexts []ContextStatus `json:"contexts"`
}

// ContextStatus is one Context's identity and lifecycle state, as reported
// in a ProcSnapshot.
type ContextStatus struct {
	ID    int    `json:"id"`
	State string `json:"state"`
}

// Snapshot captures p's current shape for DumpJSON/-dump output.
func (p *Proc) Snapshot() ProcSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := ProcSnapshot{ProcID: p.id, NodeID: p.nodeID}
	for _, c := range p.contexts {
		if c == nil {
			continue
		}
		snap.Contexts = append(snap.Contexts, ContextStatus{ID: c.ID(), State: c.State().String()})
	}
	return snap
}
