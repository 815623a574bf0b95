package objects

import "sort"

// Record is one object block from a dump.
//
// Attributes live in exactly one of three bags. Scalars hold column values:
// a string straight from the dump, an int64 once a reference is resolved, or
// nil for SQL NULL. Multi holds resolved id sets that become junction rows.
// Custom holds free-form attributes stored in custom_vars.
//
// Deferred keeps raw member, parent and exclude lists until the batch they
// refer to is complete.
type Record struct {
	Type     Type
	ID       int64
	Fresh    bool
	Line     int
	Scalars  map[string]any
	Multi    map[string][]int64
	Custom   map[string]string
	Deferred map[string]string
}

func NewRecord(t Type) *Record {
	return &Record{
		Type:    t,
		Scalars: make(map[string]any),
		Multi:   make(map[string][]int64),
		Custom:  make(map[string]string),
	}
}

// Set stages a scalar value, replacing any custom value of the same key.
func (r *Record) Set(key, value string) {
	delete(r.Custom, key)
	r.Scalars[key] = value
}

// SetCustom stages a custom attribute.
func (r *Record) SetCustom(key, value string) {
	delete(r.Scalars, key)
	r.Custom[key] = value
}

// Clear removes whatever was staged for key.
func (r *Record) Clear(key string) {
	delete(r.Scalars, key)
	delete(r.Custom, key)
	delete(r.Multi, key)
	delete(r.Deferred, key)
}

// String returns the scalar value of key when it is a string.
func (r *Record) String(key string) (string, bool) {
	v, ok := r.Scalars[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Defer moves a raw scalar into the deferred bag.
func (r *Record) Defer(key string) {
	s, ok := r.String(key)
	delete(r.Scalars, key)
	if !ok {
		return
	}
	if r.Deferred == nil {
		r.Deferred = make(map[string]string)
	}
	r.Deferred[key] = s
}

// Name returns the natural key of the record, or "" for types without one.
// Services are keyed by "host;service".
func (r *Record) Name() string {
	if r.Type == Service {
		h, _ := r.String("host_name")
		s, _ := r.String("service_description")
		if h == "" && s == "" {
			return ""
		}
		return ServiceKey(h, s)
	}
	if !hasNaturalKey(r.Type) {
		return ""
	}
	n, _ := r.String(string(r.Type) + "_name")
	return n
}

// ServiceKey builds the composite natural key of a service.
func ServiceKey(host, service string) string {
	return host + ";" + service
}

func hasNaturalKey(t Type) bool {
	for _, n := range Named {
		if n == t {
			return true
		}
	}
	return false
}

// Columns returns the scalar keys in a stable order.
func (r *Record) Columns() []string {
	keys := make([]string, 0, len(r.Scalars))
	for k := range r.Scalars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MultiKeys returns the junction attribute keys in a stable order.
func (r *Record) MultiKeys() []string {
	keys := make([]string, 0, len(r.Multi))
	for k := range r.Multi {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CustomKeys returns the custom attribute keys in a stable order.
func (r *Record) CustomKeys() []string {
	keys := make([]string, 0, len(r.Custom))
	for k := range r.Custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
