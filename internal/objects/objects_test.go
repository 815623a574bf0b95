package objects

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		raw  string
		want Type
		ok   bool
	}{
		{"host", Host, true},
		{"hoststatus", Host, true},
		{"servicestatus", Service, true},
		{"contactstatus", Contact, true},
		{"programstatus", ProgramStatus, true},
		{"program", ProgramStatus, true},
		{"hostcomment", Comment, true},
		{"servicecomment", Comment, true},
		{"hostdowntime", Downtime, true},
		{"servicedowntime", Downtime, true},
		{"info", Info, true},
		{" HostGroup ", HostGroup, true},
		{"module", Type("module"), false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := Canonical(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.ok, got.Known())
		})
	}
}

func TestRecordName(t *testing.T) {
	h := NewRecord(Host)
	h.Set("host_name", "web01")
	assert.Equal(t, "web01", h.Name())

	s := NewRecord(Service)
	s.Set("host_name", "web01")
	s.Set("service_description", "HTTP")
	assert.Equal(t, "web01;HTTP", s.Name())

	esc := NewRecord(HostEscalation)
	esc.Set("host_name", "web01")
	assert.Equal(t, "", esc.Name())

	cmt := NewRecord(Comment)
	assert.Equal(t, "", cmt.Name())
}

func TestRecordBags(t *testing.T) {
	r := NewRecord(Host)
	r.Set("notes", "a")
	r.SetCustom("notes", "b")
	_, inScalars := r.Scalars["notes"]
	assert.False(t, inScalars)
	assert.Equal(t, "b", r.Custom["notes"])

	r.Set("parents", "a,b")
	r.Defer("parents")
	assert.Equal(t, "a,b", r.Deferred["parents"])
	_, inScalars = r.Scalars["parents"]
	assert.False(t, inScalars)

	r.Clear("parents")
	r.Clear("notes")
	assert.Empty(t, r.Deferred)
	assert.Empty(t, r.Custom)
}

func TestDefaultCatalog(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	rel, ok := c.Lookup(Host, "parents")
	require.True(t, ok)
	assert.Equal(t, KindSelf, rel.Kind)
	assert.True(t, rel.Deferred())

	mt, ok := c.MemberType(ServiceGroup)
	require.True(t, ok)
	assert.Equal(t, Service, mt)

	g, ok := c.GroupOf(Contact)
	require.True(t, ok)
	assert.Equal(t, ContactGroup, g)

	_, ok = c.GroupOf(Command)
	assert.False(t, ok)

	comp, ok := c.Lookup(ServiceDependency, "dependent_service")
	require.True(t, ok)
	assert.Equal(t, "dependent_host_name", comp.HostAttr)
	assert.Equal(t, "dependent_service_description", comp.ServiceAttr)
}

func TestJunctionNaming(t *testing.T) {
	c, err := DefaultCatalog()
	require.NoError(t, err)

	tests := []struct {
		owner  Type
		attr   string
		table  string
		ownCol string
		tgtCol string
	}{
		{Host, "parents", "host_parents", "host", "parents"},
		{Timeperiod, "exclude", "timeperiod_exclude", "timeperiod", "exclude"},
		{Host, "contacts", "host_contact", "host", "contact"},
		{Service, "contact_groups", "service_contactgroup", "service", "contactgroup"},
		{HostGroup, "members", "host_hostgroup", "hostgroup", "host"},
		{ServiceGroup, "members", "service_servicegroup", "servicegroup", "service"},
		{ContactGroup, "members", "contact_contactgroup", "contactgroup", "contact"},
		{ServiceEscalation, "contacts", "serviceescalation_contact", "serviceescalation", "contact"},
	}
	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			rel, ok := c.Lookup(tt.owner, tt.attr)
			require.True(t, ok)
			assert.Equal(t, tt.table, rel.JunctionTable())
			own, tgt := rel.JunctionColumns()
			assert.Equal(t, tt.ownCol, own)
			assert.Equal(t, tt.tgtCol, tgt)
		})
	}
}

func TestParseCatalogRejectsBadInput(t *testing.T) {
	tests := map[string]string{
		"unknown owner":  "widget:\n  x: {target: host, kind: single}\n",
		"unknown target": "host:\n  x: {target: widget, kind: single}\n",
		"unknown kind":   "host:\n  x: {target: host, kind: sideways}\n",
		"bad self":       "host:\n  x: {target: contact, kind: self}\n",
		"bad composite":  "serviceescalation:\n  service: {target: service, kind: composite}\n",
		"not yaml":       "host: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestConvertAttr(t *testing.T) {
	tests := []struct {
		typ  Type
		in   string
		want string
		keep bool
	}{
		{Host, "plugin_output", "output", true},
		{Service, "performance_data", "perf_data", true},
		{Contact, "modified_attributes", "", false},
		{Host, "3d_coords", "", false},
		{Service, "3d_coords", "3d_coords", true},
		{ProgramStatus, "enable_notifications", "notifications_enabled", true},
		{ProgramStatus, "next_comment_id", "", false},
		{Comment, "author", "author_name", true},
		{Downtime, "author", "author", true},
		{Timeperiod, "monday", "monday", true},
	}
	for _, tt := range tests {
		got, keep := ConvertAttr(tt.typ, tt.in)
		assert.Equal(t, tt.keep, keep, "%s.%s", tt.typ, tt.in)
		if keep {
			assert.Equal(t, tt.want, got, "%s.%s", tt.typ, tt.in)
		}
	}
}
