/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package query_test

import (
	"testing"

	"github.com/comoproject/como/module"
	"github.com/comoproject/como/query"
)

func TestStaticRegistryResolve(t *testing.T) {
	reg := query.NewStaticRegistry()
	reg.Add(&module.Descriptor{Name: "traffic"})
	reg.Alias("tr", "traffic")

	if _, ok := reg.Resolve("missing"); ok {
		t.Fatal("resolved an unregistered module")
	}
	desc, ok := reg.Resolve("traffic")
	if !ok || desc.Name != "traffic" {
		t.Fatalf("resolve traffic: %+v, %v", desc, ok)
	}
	desc, ok = reg.Resolve("tr")
	if !ok || desc.Name != "traffic" {
		t.Fatalf("resolve alias tr: %+v, %v", desc, ok)
	}
}
