/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package hk_test

import (
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/comoproject/como/hk"
)

var _ = Describe("Housekeeper", func() {
	AfterEach(func() {
		hk.Unreg("periodic")
		hk.Unreg("one-shot")
	})

	It("fires a registered callback repeatedly at its interval", func() {
		var calls int32
		hk.Reg("periodic", func() time.Duration {
			atomic.AddInt32(&calls, 1)
			return 10 * time.Millisecond
		}, 10*time.Millisecond)

		Eventually(func() int32 { return atomic.LoadInt32(&calls) }, time.Second, 5*time.Millisecond).
			Should(BeNumerically(">=", 2))
	})

	It("stops firing once unregistered", func() {
		var calls int32
		hk.Reg("one-shot", func() time.Duration {
			atomic.AddInt32(&calls, 1)
			return 5 * time.Millisecond
		}, 5*time.Millisecond)

		Eventually(func() int32 { return atomic.LoadInt32(&calls) }, time.Second, 5*time.Millisecond).
			Should(BeNumerically(">=", 1))

		hk.Unreg("one-shot")
		seen := atomic.LoadInt32(&calls)
		Consistently(func() int32 { return atomic.LoadInt32(&calls) }, 50*time.Millisecond, 5*time.Millisecond).
			Should(Equal(seen))
	})
})
