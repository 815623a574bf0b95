package objects

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed relations.yaml
var relationsYAML []byte

// Kind classifies how a reference attribute is resolved and stored.
type Kind string

const (
	KindSingle    Kind = "single"
	KindCommand   Kind = "command"
	KindMulti     Kind = "multi"
	KindSelf      Kind = "self"
	KindMembers   Kind = "members"
	KindComposite Kind = "composite"
)

// Relation declares that an attribute of Owner refers to objects of Target.
type Relation struct {
	Owner       Type   `yaml:"-"`
	Attr        string `yaml:"-"`
	Target      Type   `yaml:"target"`
	Kind        Kind   `yaml:"kind"`
	MustExist   bool   `yaml:"must_exist"`
	HostAttr    string `yaml:"host_attr"`
	ServiceAttr string `yaml:"service_attr"`
}

// Junction reports whether the relation is stored as junction rows.
func (r Relation) Junction() bool {
	return r.Kind == KindMulti || r.Kind == KindSelf || r.Kind == KindMembers
}

// Deferred reports whether resolution waits for a batch flush.
func (r Relation) Deferred() bool {
	return r.Kind == KindSelf || r.Kind == KindMembers
}

// JunctionTable names the table holding the edges of r. Membership edges
// are named target first (host_hostgroup), self references after the
// attribute (host_parents), everything else owner first (host_contact).
func (r Relation) JunctionTable() string {
	switch {
	case r.Kind == KindMembers:
		return string(r.Target) + "_" + string(r.Owner)
	case r.Target == r.Owner:
		return string(r.Owner) + "_" + r.Attr
	default:
		return string(r.Owner) + "_" + string(r.Target)
	}
}

// JunctionColumns returns the owner and target column names of the junction
// table.
func (r Relation) JunctionColumns() (owner, target string) {
	if r.Target == r.Owner {
		return string(r.Owner), r.Attr
	}
	return string(r.Owner), string(r.Target)
}

// Catalog is the immutable set of relations, keyed by owner type.
type Catalog struct {
	byOwner map[Type][]Relation
}

// ParseCatalog decodes a relation document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc map[string]map[string]Relation
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse relations: %w", err)
	}

	c := &Catalog{byOwner: make(map[Type][]Relation, len(doc))}
	for owner, attrs := range doc {
		ot, ok := Canonical(owner)
		if !ok {
			return nil, fmt.Errorf("parse relations: unknown owner type %q", owner)
		}
		for attr, rel := range attrs {
			rel.Owner = ot
			rel.Attr = attr
			if err := rel.validate(); err != nil {
				return nil, fmt.Errorf("parse relations: %s.%s: %w", owner, attr, err)
			}
			c.byOwner[ot] = append(c.byOwner[ot], rel)
		}
		sort.Slice(c.byOwner[ot], func(i, j int) bool {
			return c.byOwner[ot][i].Attr < c.byOwner[ot][j].Attr
		})
	}
	return c, nil
}

func (r Relation) validate() error {
	if _, ok := Canonical(string(r.Target)); !ok {
		return fmt.Errorf("unknown target type %q", r.Target)
	}
	switch r.Kind {
	case KindSingle, KindCommand, KindMulti, KindMembers:
	case KindSelf:
		if r.Target != r.Owner {
			return fmt.Errorf("self relation must target its owner")
		}
	case KindComposite:
		if r.HostAttr == "" || r.ServiceAttr == "" {
			return fmt.Errorf("composite relation needs host_attr and service_attr")
		}
	default:
		return fmt.Errorf("unknown kind %q", r.Kind)
	}
	return nil
}

var (
	defaultCatalog     *Catalog
	defaultCatalogErr  error
	defaultCatalogOnce sync.Once
)

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() (*Catalog, error) {
	defaultCatalogOnce.Do(func() {
		defaultCatalog, defaultCatalogErr = ParseCatalog(relationsYAML)
	})
	return defaultCatalog, defaultCatalogErr
}

// For returns the relations owned by t, ordered by attribute.
func (c *Catalog) For(t Type) []Relation {
	return c.byOwner[t]
}

// Lookup finds the relation for attr on t.
func (c *Catalog) Lookup(t Type, attr string) (Relation, bool) {
	for _, r := range c.byOwner[t] {
		if r.Attr == attr {
			return r, true
		}
	}
	return Relation{}, false
}

// MemberType returns the type a group's members refer to.
func (c *Catalog) MemberType(group Type) (Type, bool) {
	r, ok := c.Lookup(group, "members")
	if !ok {
		return "", false
	}
	return r.Target, true
}

// GroupOf returns the group type whose members are of type t.
func (c *Catalog) GroupOf(t Type) (Type, bool) {
	for owner, rels := range c.byOwner {
		for _, r := range rels {
			if r.Kind == KindMembers && r.Target == t {
				return owner, true
			}
		}
	}
	return "", false
}

// Junctions returns every junction relation in a stable order.
func (c *Catalog) Junctions() []Relation {
	var out []Relation
	for _, rels := range c.byOwner {
		for _, r := range rels {
			if r.Junction() {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].JunctionTable() < out[j].JunctionTable()
	})
	return out
}
