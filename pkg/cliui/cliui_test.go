package cliui_test

import (
	"bytes"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/ollamabridge/pkg/cliui"
)

var _ = Describe("FormatDuration", func() {
	It("formats sub-second durations in milliseconds", func() {
		Expect(cliui.FormatDuration(12 * time.Millisecond)).To(Equal("12ms"))
	})

	It("formats longer durations in seconds", func() {
		Expect(cliui.FormatDuration(3200 * time.Millisecond)).To(Equal("3.2s"))
	})
})

var _ = Describe("Mark", func() {
	It("returns the success mark for nil", func() {
		Expect(cliui.Mark(nil)).To(Equal(cliui.SuccessMark))
	})

	It("returns the fail mark for an error", func() {
		Expect(cliui.Mark(errors.New("boom"))).To(Equal(cliui.FailMark))
	})
})

var _ = Describe("Step", func() {
	It("returns the function's result and prints the final line", func() {
		var buf bytes.Buffer
		err := cliui.Step(&buf, "Fetching models", func() error { return nil })
		Expect(err).NotTo(HaveOccurred())
		Expect(buf.String()).To(ContainSubstring("Fetching models"))
		Expect(buf.String()).To(ContainSubstring(cliui.SuccessMark))
	})

	It("propagates errors", func() {
		var buf bytes.Buffer
		err := cliui.Step(&buf, "Failing", func() error { return errors.New("boom") })
		Expect(err).To(MatchError("boom"))
	})
})
