/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package query

import "github.com/comoproject/como/module"

// Registry resolves a query's module name (after alias expansion) against
// the live configuration. The configuration source itself -- the config
// file grammar and the dynamic-module loader -- lives outside this
// package; Registry is the seam query needs into it.
type Registry interface {
	Resolve(name string) (*module.Descriptor, bool)
}

// StaticRegistry is a plain name/alias table, enough for tests and for a
// supervisor that hands query a fixed snapshot of active modules per
// request.
type StaticRegistry struct {
	modules map[string]*module.Descriptor
	aliases map[string]string
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{modules: make(map[string]*module.Descriptor), aliases: make(map[string]string)}
}

func (r *StaticRegistry) Add(desc *module.Descriptor)     { r.modules[desc.Name] = desc }
func (r *StaticRegistry) Alias(alias, target string)      { r.aliases[alias] = target }

func (r *StaticRegistry) Resolve(name string) (*module.Descriptor, bool) {
	if target, ok := r.aliases[name]; ok {
		name = target
	}
	desc, ok := r.modules[name]
	return desc, ok
}
