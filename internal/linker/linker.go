// Package linker turns name references inside parsed records into ids.
package linker

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/nagimport/ocimp/internal/identity"
	"github.com/nagimport/ocimp/internal/objects"
)

var listSep = regexp.MustCompile(`[\t ]*,[\t ]*`)

// SplitList splits a comma separated list, dropping empty entries.
func SplitList(raw string) []string {
	var out []string
	for _, tok := range listSep.Split(strings.TrimSpace(raw), -1) {
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// Linker resolves references against an identity.Resolver.
type Linker struct {
	ids *identity.Resolver
	cat *objects.Catalog
	log *zap.Logger

	// keepUnresolved leaves an unresolvable single reference out of the
	// record instead of storing NULL, so an update keeps the stored value.
	keepUnresolved bool
}

func New(ids *identity.Resolver, cat *objects.Catalog, log *zap.Logger) *Linker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Linker{ids: ids, cat: cat, log: log}
}

// SetStatusOnly switches to status-snapshot semantics: snapshots refresh
// existing rows, so a reference the snapshot cannot resolve is left alone.
func (l *Linker) SetStatusOnly(on bool) {
	l.keepUnresolved = on
}

// Link resolves every immediate reference of rec and parks deferred ones.
func (l *Linker) Link(rec *objects.Record) error {
	for _, rel := range l.cat.For(rec.Type) {
		var err error
		switch rel.Kind {
		case objects.KindSingle:
			err = l.linkSingle(rec, rel)
		case objects.KindCommand:
			err = l.linkCommand(rec, rel)
		case objects.KindMulti:
			err = l.linkMulti(rec, rel)
		case objects.KindSelf, objects.KindMembers:
			rec.Defer(rel.Attr)
		case objects.KindComposite:
			err = l.linkComposite(rec, rel)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (l *Linker) linkSingle(rec *objects.Record, rel objects.Relation) error {
	name, ok := rec.String(rel.Attr)
	if !ok {
		return nil
	}
	return l.store(rec, rel, rel.Attr, name)
}

// linkCommand splits "check_http!80!/health" into the command id and
// "80!/health" stored under <attr>_args.
func (l *Linker) linkCommand(rec *objects.Record, rel objects.Relation) error {
	raw, ok := rec.String(rel.Attr)
	if !ok {
		return nil
	}
	name, args, found := strings.Cut(raw, "!")
	if found {
		rec.Scalars[rel.Attr+"_args"] = args
	}
	return l.store(rec, rel, rel.Attr, name)
}

func (l *Linker) linkComposite(rec *objects.Record, rel objects.Relation) error {
	host, hok := rec.String(rel.HostAttr)
	svc, sok := rec.String(rel.ServiceAttr)
	delete(rec.Scalars, rel.HostAttr)
	delete(rec.Scalars, rel.ServiceAttr)
	if !hok && !sok {
		return nil
	}
	return l.store(rec, rel, rel.Attr, objects.ServiceKey(host, svc))
}

// store writes the resolved id of name into column col.
func (l *Linker) store(rec *objects.Record, rel objects.Relation, col, name string) error {
	id, err := l.resolve(rel, name)
	if err != nil {
		return err
	}
	if id != nil {
		rec.Scalars[col] = *id
		return nil
	}
	if l.keepUnresolved {
		delete(rec.Scalars, col)
		return nil
	}
	rec.Scalars[col] = nil
	return nil
}

func (l *Linker) linkMulti(rec *objects.Record, rel objects.Relation) error {
	raw, ok := rec.String(rel.Attr)
	delete(rec.Scalars, rel.Attr)
	if !ok {
		return nil
	}
	ids, err := l.resolveList(rel, rec.Type, SplitList(raw))
	if err != nil {
		return err
	}
	rec.Multi[rel.Attr] = ids
	return nil
}

// ResolveDeferred resolves the parent, exclude and member lists parked by
// Link. It must run once every object the lists may name is known.
func (l *Linker) ResolveDeferred(rec *objects.Record) error {
	keys := make([]string, 0, len(rec.Deferred))
	for k := range rec.Deferred {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, attr := range keys {
		raw := rec.Deferred[attr]
		rel, ok := l.cat.Lookup(rec.Type, attr)
		if !ok {
			continue
		}
		tokens := SplitList(raw)
		if rel.Kind == objects.KindMembers && rel.Target == objects.Service {
			tokens = l.servicePairs(rec, tokens)
		}
		ids, err := l.resolveList(rel, rec.Type, tokens)
		if err != nil {
			return err
		}
		rec.Multi[attr] = ids
	}
	rec.Deferred = nil
	return nil
}

// servicePairs turns "h1,svcA,h1,svcB" into service keys, consuming the list
// from the end two tokens at a time.
func (l *Linker) servicePairs(rec *objects.Record, tokens []string) []string {
	var keys []string
	for len(tokens) >= 2 {
		svc := tokens[len(tokens)-1]
		host := tokens[len(tokens)-2]
		tokens = tokens[:len(tokens)-2]
		keys = append(keys, objects.ServiceKey(host, svc))
	}
	if len(tokens) == 1 {
		l.log.Warn("service group member list has an unpaired entry",
			zap.String("servicegroup", rec.Name()),
			zap.String("entry", tokens[0]),
			zap.Int("line", rec.Line))
	}
	return keys
}

func (l *Linker) resolveList(rel objects.Relation, owner objects.Type, names []string) ([]int64, error) {
	seen := make(map[int64]bool, len(names))
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		id, err := l.resolve(rel, name)
		if err != nil {
			return nil, err
		}
		if id == nil {
			l.log.Debug("dropping unresolved reference",
				zap.String("type", owner.String()),
				zap.String("attr", rel.Attr),
				zap.String("target", rel.Target.String()),
				zap.String("name", name))
			continue
		}
		if !seen[*id] {
			seen[*id] = true
			ids = append(ids, *id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// resolve returns nil for an optional reference that cannot be resolved.
func (l *Linker) resolve(rel objects.Relation, name string) (*int64, error) {
	if rel.MustExist {
		id, err := l.ids.MustGet(rel.Target.String(), name)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", rel.Owner, rel.Attr, err)
		}
		return &id, nil
	}
	id, ok := l.ids.Get(rel.Target.String(), name)
	if !ok {
		return nil, nil
	}
	return &id, nil
}
