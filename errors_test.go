package resilience_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	resilience "github.com/noteflow/go-resilience"
)

// fakeTimeoutError mimics net.Error-style timeouts without a concrete net type.
type fakeTimeoutError struct{ msg string }

func (e *fakeTimeoutError) Error() string { return e.msg }
func (e *fakeTimeoutError) Timeout() bool { return true }

var _ = Describe("ClassifiedError", func() {
	It("formats as kind plus message", func() {
		err := resilience.NewClassifiedError(resilience.FailureThrottled, errors.New("slow down"))
		Expect(err.Error()).To(Equal("throttled: slow down"))
	})

	It("unwraps to the underlying error", func() {
		base := errors.New("connection refused")
		err := resilience.NewClassifiedError(resilience.FailureConnection, base)
		Expect(errors.Is(err, base)).To(BeTrue())

		var cerr *resilience.ClassifiedError
		Expect(errors.As(err, &cerr)).To(BeTrue())
		Expect(cerr.Kind).To(Equal(resilience.FailureConnection))
	})

	It("returns nil for a nil underlying error", func() {
		Expect(resilience.NewClassifiedError(resilience.FailureTimeout, nil)).To(BeNil())
	})

	It("survives further wrapping", func() {
		base := errors.New("no such host")
		err := fmt.Errorf("resolving endpoint: %w",
			resilience.NewClassifiedError(resilience.FailureConnection, base))

		kind, ok := resilience.KindOf(err)
		Expect(ok).To(BeTrue())
		Expect(kind).To(Equal(resilience.FailureConnection))
		Expect(errors.Is(err, base)).To(BeTrue())
	})
})

var _ = Describe("KindOf", func() {
	It("extracts the kind from a tagged error", func() {
		err := resilience.NewClassifiedError(resilience.FailureNotFound, errors.New("no such key"))
		kind, ok := resilience.KindOf(err)
		Expect(ok).To(BeTrue())
		Expect(kind).To(Equal(resilience.FailureNotFound))
	})

	It("reports no kind for an untagged error", func() {
		_, ok := resilience.KindOf(errors.New("mystery"))
		Expect(ok).To(BeFalse())
	})

	It("reports no kind for nil", func() {
		_, ok := resilience.KindOf(nil)
		Expect(ok).To(BeFalse())
	})

	It("classifies untagged timeout-shaped errors as timeouts", func() {
		kind, ok := resilience.KindOf(&fakeTimeoutError{msg: "i/o timeout"})
		Expect(ok).To(BeTrue())
		Expect(kind).To(Equal(resilience.FailureTimeout))
	})
})

var _ = Describe("KindClassifier", func() {
	var classifier *resilience.KindClassifier

	BeforeEach(func() {
		classifier = resilience.NewKindClassifier()
	})

	DescribeTable("default retryability by failure kind",
		func(kind resilience.FailureKind, retryable bool) {
			err := resilience.NewClassifiedError(kind, errors.New("boom"))
			Expect(classifier.IsRetryable(err)).To(Equal(retryable))
		},
		Entry("timeout", resilience.FailureTimeout, true),
		Entry("connection", resilience.FailureConnection, true),
		Entry("throttled", resilience.FailureThrottled, true),
		Entry("unavailable", resilience.FailureUnavailable, true),
		Entry("not_found", resilience.FailureNotFound, false),
		Entry("bad_request", resilience.FailureBadRequest, false),
		Entry("internal", resilience.FailureInternal, false),
	)

	It("treats nil as not retryable", func() {
		Expect(classifier.IsRetryable(nil)).To(BeFalse())
	})

	It("treats untagged errors as fatal", func() {
		Expect(classifier.IsRetryable(errors.New("mystery"))).To(BeFalse())
	})

	It("retries untagged timeout-shaped errors", func() {
		Expect(classifier.IsRetryable(&fakeTimeoutError{msg: "i/o timeout"})).To(BeTrue())
	})

	It("never retries context cancellation", func() {
		Expect(classifier.IsRetryable(context.Canceled)).To(BeFalse())
	})

	It("never retries a context deadline, even though it reports as a timeout", func() {
		Expect(classifier.IsRetryable(context.DeadlineExceeded)).To(BeFalse())
	})

	It("never retries a tagged error wrapping a context error", func() {
		err := resilience.NewClassifiedError(resilience.FailureTimeout, context.DeadlineExceeded)
		Expect(classifier.IsRetryable(err)).To(BeFalse())
	})

	It("honors a narrowed retryable set", func() {
		narrow := &resilience.KindClassifier{
			RetryableKinds: []resilience.FailureKind{resilience.FailureTimeout},
		}

		timeout := resilience.NewClassifiedError(resilience.FailureTimeout, errors.New("slow"))
		throttled := resilience.NewClassifiedError(resilience.FailureThrottled, errors.New("shed"))

		Expect(narrow.IsRetryable(timeout)).To(BeTrue())
		Expect(narrow.IsRetryable(throttled)).To(BeFalse())
	})
})

var _ = Describe("ParseFailureKinds", func() {
	It("parses known kind names", func() {
		kinds, err := resilience.ParseFailureKinds([]string{"timeout", "throttled", "not_found"})
		Expect(err).NotTo(HaveOccurred())
		Expect(kinds).To(Equal([]resilience.FailureKind{
			resilience.FailureTimeout,
			resilience.FailureThrottled,
			resilience.FailureNotFound,
		}))
	})

	It("rejects names outside the closed set", func() {
		_, err := resilience.ParseFailureKinds([]string{"timeout", "gremlins"})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("gremlins"))
	})

	It("returns an empty slice for no names", func() {
		kinds, err := resilience.ParseFailureKinds(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(kinds).To(BeEmpty())
	})
})
