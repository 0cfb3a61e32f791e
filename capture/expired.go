/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package capture

import (
	"github.com/comoproject/como/memsys"
	"github.com/comoproject/como/module"
)

// ExpiredTable is one sealed capture table handed off to export, linked
// into a list so a single FLUSH carries every table that sealed during one
// batch. Export reassigns the list back to capture once drained.
type ExpiredTable struct {
	Descriptor *module.Descriptor
	Table      *Ctable
	Mem        *memsys.Map
	FlushState any

	Next *ExpiredTable
}

// expiredList accumulates sealed tables for the batch currently in
// progress and hands back its head for a single FLUSH delivery.
type expiredList struct {
	head, tail *ExpiredTable
}

func (l *expiredList) push(t *ExpiredTable) {
	if l.head == nil {
		l.head, l.tail = t, t
		return
	}
	l.tail.Next = t
	l.tail = t
}

func (l *expiredList) drain() *ExpiredTable {
	head := l.head
	l.head, l.tail = nil, nil
	return head
}

func (l *expiredList) empty() bool { return l.head == nil }
