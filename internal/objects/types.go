// Package objects describes the monitoring object model: canonical types,
// the records parsed from a dump, and the static relation catalog.
package objects

import "strings"

// Type is a canonical object type. Its value doubles as the table name.
type Type string

const (
	Host              Type = "host"
	Service           Type = "service"
	Contact           Type = "contact"
	ContactGroup      Type = "contactgroup"
	HostGroup         Type = "hostgroup"
	ServiceGroup      Type = "servicegroup"
	Timeperiod        Type = "timeperiod"
	Command           Type = "command"
	HostDependency    Type = "hostdependency"
	ServiceDependency Type = "servicedependency"
	HostEscalation    Type = "hostescalation"
	ServiceEscalation Type = "serviceescalation"
	Comment           Type = "comment_tbl"
	Downtime          Type = "scheduled_downtime"
	ProgramStatus     Type = "program_status"
	Info              Type = "info"
)

// Table returns the table records of this type are written to.
func (t Type) Table() string { return string(t) }

func (t Type) String() string { return string(t) }

var rawTypes = map[string]Type{
	"host":              Host,
	"hoststatus":        Host,
	"service":           Service,
	"servicestatus":     Service,
	"contact":           Contact,
	"contactstatus":     Contact,
	"contactgroup":      ContactGroup,
	"hostgroup":         HostGroup,
	"servicegroup":      ServiceGroup,
	"timeperiod":        Timeperiod,
	"command":           Command,
	"hostdependency":    HostDependency,
	"servicedependency": ServiceDependency,
	"hostescalation":    HostEscalation,
	"serviceescalation": ServiceEscalation,
	"hostcomment":       Comment,
	"servicecomment":    Comment,
	"hostdowntime":      Downtime,
	"servicedowntime":   Downtime,
	"program":           ProgramStatus,
	"programstatus":     ProgramStatus,
	"info":              Info,
}

// Canonical maps a block type as written in a dump onto its canonical type.
// Unknown names are returned unchanged with ok=false.
func Canonical(raw string) (t Type, ok bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if t, ok := rawTypes[raw]; ok {
		return t, true
	}
	return Type(raw), false
}

// Definitions lists the types an objects.cache import owns. Rows of these
// types that a full import did not touch are purged.
var Definitions = []Type{
	Timeperiod, Command, ContactGroup, HostGroup, ServiceGroup, Contact,
	Host, Service, HostEscalation, ServiceEscalation, HostDependency, ServiceDependency,
}

// Named lists the types that carry a natural key and are preloaded.
var Named = []Type{
	Host, Service, Contact, Timeperiod, Command, ContactGroup, HostGroup, ServiceGroup,
}

// Snapshots are replaced wholesale by every status import.
var Snapshots = []Type{Comment, Downtime}

// IsStatusMarker reports whether a dump starting with a block of type t
// is a status snapshot rather than an object definition dump.
func IsStatusMarker(t Type) bool {
	return t == Info || t == ProgramStatus
}

// IsGroup reports whether t is one of the *group types.
func IsGroup(t Type) bool {
	return t == HostGroup || t == ServiceGroup || t == ContactGroup
}

var known = func() map[Type]bool {
	m := make(map[Type]bool, len(rawTypes))
	for _, t := range rawTypes {
		m[t] = true
	}
	return m
}()

// Known reports whether t is a canonical type.
func (t Type) Known() bool {
	return known[t]
}
