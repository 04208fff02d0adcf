/*
Copyright © 2026 unikernel-tools

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package liveerr_test

import (
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/unikernel-tools/liveupdate/pkg/liveerr"
)

func TestLiveerr(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "liveerr test suite")
}

var _ = Describe("Error", func() {
	It("formats with its kind and message", func() {
		err := liveerr.New(liveerr.UnknownPartition, "no such partition")
		Expect(err.Error()).To(Equal("UnknownPartition: no such partition"))
	})

	It("formats with the wrapped cause appended", func() {
		cause := errors.New("short read")
		err := liveerr.Wrap(liveerr.ElfIncomplete, "truncated blob", cause)
		Expect(err.Error()).To(ContainSubstring("truncated blob"))
		Expect(err.Error()).To(ContainSubstring("short read"))
	})

	It("Wrap of a nil error returns nil", func() {
		Expect(liveerr.Wrap(liveerr.ElfIncomplete, "unused", nil)).To(BeNil())
	})

	It("unwraps to the original cause", func() {
		cause := errors.New("short read")
		err := liveerr.Wrap(liveerr.ElfIncomplete, "truncated blob", cause)
		Expect(errors.Unwrap(err)).To(Equal(cause))
	})

	Describe("Is", func() {
		It("matches an error of the same kind", func() {
			err := liveerr.New(liveerr.TypeMismatch, "wrong accessor")
			Expect(liveerr.Is(err, liveerr.TypeMismatch)).To(BeTrue())
		})

		It("does not match a different kind", func() {
			err := liveerr.New(liveerr.TypeMismatch, "wrong accessor")
			Expect(liveerr.Is(err, liveerr.SizeMismatch)).To(BeFalse())
		})

		It("matches through a wrapper that implements Unwrap", func() {
			err := liveerr.New(liveerr.MagicMismatch, "bad magic")
			wrapped := errorsWrapf(err)
			Expect(liveerr.Is(wrapped, liveerr.MagicMismatch)).To(BeTrue())
		})

		It("does not match a plain stdlib error", func() {
			Expect(liveerr.Is(errors.New("boring"), liveerr.InvalidRegion)).To(BeFalse())
		})
	})

	DescribeTable("Kind.String",
		func(k liveerr.Kind, want string) {
			Expect(k.String()).To(Equal(want))
		},
		Entry("InvalidRegion", liveerr.InvalidRegion, "InvalidRegion"),
		Entry("ChecksumMismatch", liveerr.ChecksumMismatch, "ChecksumMismatch"),
		Entry("WalkPastEnd", liveerr.WalkPastEnd, "WalkPastEnd"),
		Entry("ElfMalformed", liveerr.ElfMalformed, "ElfMalformed"),
		Entry("out of range", liveerr.Kind(999), "Unknown"),
	)
})

var _ = Describe("ExitCodeFor", func() {
	DescribeTable("maps each kind to its documented exit code",
		func(k liveerr.Kind, want int) {
			Expect(liveerr.ExitCodeFor(k)).To(Equal(want))
		},
		Entry("InvalidRegion", liveerr.InvalidRegion, liveerr.ExitInvalidRegion),
		Entry("ChecksumMismatch", liveerr.ChecksumMismatch, liveerr.ExitChecksumMismatch),
		Entry("UnknownPartition", liveerr.UnknownPartition, liveerr.ExitUnknownPartition),
		Entry("ElfInvalid", liveerr.ElfInvalid, liveerr.ExitElfInvalid),
		Entry("ElfIncomplete", liveerr.ElfIncomplete, liveerr.ExitElfInvalid),
		Entry("ElfMalformed", liveerr.ElfMalformed, liveerr.ExitElfInvalid),
		Entry("falls back to internal for anything else", liveerr.WalkPastEnd, liveerr.ExitInternal),
	)
})

func errorsWrapf(err error) error {
	return &wrapper{err}
}

type wrapper struct{ err error }

func (w *wrapper) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapper) Unwrap() error { return w.err }
