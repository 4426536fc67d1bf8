package kpi

import (
	"strings"

	"tracksched/internal/model"
)

// Identity names the parties the classifier looks for.
type Identity struct {
	InternalSystem string `json:"internal_system"`
	Hub            string `json:"hub"`
	ReadMethod     string `json:"read_method"`
	WriteMethod    string `json:"write_method"`
}

func DefaultIdentity() Identity {
	return Identity{InternalSystem: "tracking", Hub: "TMDB", ReadMethod: "GET", WriteMethod: "POST"}
}

func (id Identity) withDefaults() Identity {
	def := DefaultIdentity()
	if id.InternalSystem == "" {
		id.InternalSystem = def.InternalSystem
	}
	if id.Hub == "" {
		id.Hub = def.Hub
	}
	if id.ReadMethod == "" {
		id.ReadMethod = def.ReadMethod
	}
	if id.WriteMethod == "" {
		id.WriteMethod = def.WriteMethod
	}
	return id
}

type Leg int

const (
	LegNone Leg = iota
	LegA
	LegB
	LegC
)

func (l Leg) String() string {
	switch l {
	case LegA:
		return "A"
	case LegB:
		return "B"
	case LegC:
		return "C"
	}
	return "-"
}

// Classify assigns a row to a leg. Leg B matches when the receiver is the
// carrier website the row itself belongs to, so an unfiltered query over
// several sites counts every site's B rows rather than only those of the
// first site seen.
func Classify(r model.RequestLog, id Identity) Leg {
	id = id.withDefaults()
	if r.Sender != id.InternalSystem {
		return LegNone
	}
	read := strings.EqualFold(r.Method, id.ReadMethod)
	write := strings.EqualFold(r.Method, id.WriteMethod)
	switch {
	case r.Receiver == id.Hub && read:
		return LegA
	case r.Receiver == id.Hub && write:
		return LegC
	case r.Website != "" && r.Receiver == r.Website && write:
		return LegB
	}
	return LegNone
}
