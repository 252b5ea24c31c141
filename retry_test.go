package resilience_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	resilience "github.com/noteflow/go-resilience"
)

// mockErrorClassifier for testing
type mockErrorClassifier struct {
	isRetryableFunc func(err error) bool
}

func (m *mockErrorClassifier) IsRetryable(err error) bool {
	return m.isRetryableFunc(err)
}

var _ = Describe("Retrier", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		calls  atomic.Int32
		logger *slog.Logger
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		calls.Store(0)
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelError, // Quiet during tests
		}))
	})

	AfterEach(func() {
		cancel()
	})

	Describe("NewRetrier", func() {
		It("creates a retrier with default config", func() {
			retrier := resilience.NewRetrier()
			Expect(retrier).NotTo(BeNil())
		})

		It("creates a retrier with custom options", func() {
			retrier := resilience.NewRetrier(
				resilience.WithMaxAttempts(5),
				resilience.WithExponentialBackoff(time.Millisecond, 100*time.Millisecond),
				resilience.WithRetryLogger(logger),
			)
			Expect(retrier).NotTo(BeNil())
		})
	})

	Describe("Do", func() {
		Context("successful operation", func() {
			It("returns the result on the first attempt", func() {
				retrier := resilience.NewRetrier(
					resilience.WithMaxAttempts(3),
					resilience.WithConstantBackoff(10*time.Millisecond),
					resilience.WithRetryLogger(logger),
				)

				resp, err := resilience.Do(ctx, retrier, func(ctx context.Context) (string, error) {
					calls.Add(1)
					return "success", nil
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(resp).To(Equal("success"))
				Expect(calls.Load()).To(Equal(int32(1)))

				stats := retrier.GetRetryStats()
				Expect(stats.TotalAttempts).To(Equal(int64(1)))
				Expect(stats.TotalRetries).To(Equal(int64(0)))
				Expect(stats.TotalSuccesses).To(Equal(int64(1)))
				Expect(stats.TotalFailures).To(Equal(int64(0)))
			})
		})

		Context("retryable failures", func() {
			It("retries until the operation succeeds", func() {
				retrier := resilience.NewRetrier(
					resilience.WithMaxAttempts(5),
					resilience.WithConstantBackoff(10*time.Millisecond),
					resilience.WithRetryLogger(logger),
				)

				resp, err := resilience.Do(ctx, retrier, func(ctx context.Context) (string, error) {
					if calls.Add(1) < 3 {
						return "", resilience.NewClassifiedError(resilience.FailureUnavailable, errors.New("service unavailable"))
					}
					return "success", nil
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(resp).To(Equal("success"))
				Expect(calls.Load()).To(Equal(int32(3)))

				stats := retrier.GetRetryStats()
				Expect(stats.TotalAttempts).To(Equal(int64(3)))
				Expect(stats.TotalRetries).To(Equal(int64(2)))
				Expect(stats.TotalSuccesses).To(Equal(int64(1)))
				Expect(stats.TotalFailures).To(Equal(int64(0)))
			})

			It("returns the last failure once attempts are exhausted", func() {
				baseErr := errors.New("connection reset")
				retrier := resilience.NewRetrier(
					resilience.WithMaxAttempts(3),
					resilience.WithConstantBackoff(5*time.Millisecond),
					resilience.WithRetryLogger(logger),
				)

				resp, err := resilience.Do(ctx, retrier, func(ctx context.Context) (string, error) {
					calls.Add(1)
					return "", resilience.NewClassifiedError(resilience.FailureConnection, baseErr)
				})
				Expect(err).To(HaveOccurred())
				Expect(errors.Is(err, baseErr)).To(BeTrue())
				Expect(resp).To(Equal(""))
				Expect(calls.Load()).To(Equal(int32(3)))

				kind, ok := resilience.KindOf(err)
				Expect(ok).To(BeTrue())
				Expect(kind).To(Equal(resilience.FailureConnection))

				stats := retrier.GetRetryStats()
				Expect(stats.TotalAttempts).To(Equal(int64(3)))
				Expect(stats.TotalRetries).To(Equal(int64(2)))
				Expect(stats.TotalFailures).To(Equal(int64(1)))
			})

			It("makes exactly one attempt when max attempts is one", func() {
				retrier := resilience.NewRetrier(
					resilience.WithMaxAttempts(1),
					resilience.WithConstantBackoff(5*time.Millisecond),
					resilience.WithRetryLogger(logger),
				)

				_, err := resilience.Do(ctx, retrier, func(ctx context.Context) (string, error) {
					calls.Add(1)
					return "", resilience.NewClassifiedError(resilience.FailureTimeout, errors.New("deadline exceeded"))
				})
				Expect(err).To(HaveOccurred())
				Expect(calls.Load()).To(Equal(int32(1)))
			})
		})

		Context("fatal failures", func() {
			It("does not retry a non-retryable failure kind", func() {
				retrier := resilience.NewRetrier(
					resilience.WithMaxAttempts(5),
					resilience.WithConstantBackoff(5*time.Millisecond),
					resilience.WithRetryLogger(logger),
				)

				_, err := resilience.Do(ctx, retrier, func(ctx context.Context) (string, error) {
					calls.Add(1)
					return "", resilience.NewClassifiedError(resilience.FailureBadRequest, errors.New("malformed key"))
				})
				Expect(err).To(HaveOccurred())
				Expect(calls.Load()).To(Equal(int32(1)))

				stats := retrier.GetRetryStats()
				Expect(stats.TotalAttempts).To(Equal(int64(1)))
				Expect(stats.TotalRetries).To(Equal(int64(0)))
				Expect(stats.TotalFailures).To(Equal(int64(1)))
			})

			It("does not retry an unclassified failure", func() {
				retrier := resilience.NewRetrier(
					resilience.WithMaxAttempts(5),
					resilience.WithConstantBackoff(5*time.Millisecond),
					resilience.WithRetryLogger(logger),
				)

				_, err := resilience.Do(ctx, retrier, func(ctx context.Context) (string, error) {
					calls.Add(1)
					return "", errors.New("something unexpected")
				})
				Expect(err).To(HaveOccurred())
				Expect(calls.Load()).To(Equal(int32(1)))
			})

			It("honors a narrowed set of retryable kinds", func() {
				retrier := resilience.NewRetrier(
					resilience.WithMaxAttempts(5),
					resilience.WithConstantBackoff(5*time.Millisecond),
					resilience.WithRetryableKinds(resilience.FailureTimeout),
					resilience.WithRetryLogger(logger),
				)

				_, err := resilience.Do(ctx, retrier, func(ctx context.Context) (string, error) {
					calls.Add(1)
					return "", resilience.NewClassifiedError(resilience.FailureThrottled, errors.New("rate limit exceeded"))
				})
				Expect(err).To(HaveOccurred())
				Expect(calls.Load()).To(Equal(int32(1)))
			})
		})

		Context("custom classifier", func() {
			It("consults the classifier on every failure", func() {
				classified := atomic.Int32{}
				classifier := &mockErrorClassifier{
					isRetryableFunc: func(err error) bool {
						return classified.Add(1) < 2 // Retry once, then give up
					},
				}

				retrier := resilience.NewRetrier(
					resilience.WithMaxAttempts(5),
					resilience.WithConstantBackoff(5*time.Millisecond),
					resilience.WithErrorClassifier(classifier),
					resilience.WithRetryLogger(logger),
				)

				_, err := resilience.Do(ctx, retrier, func(ctx context.Context) (string, error) {
					calls.Add(1)
					return "", errors.New("transient glitch")
				})
				Expect(err).To(HaveOccurred())
				Expect(calls.Load()).To(Equal(int32(2)))
				Expect(classified.Load()).To(Equal(int32(2)))
			})
		})

		Context("invalid configuration", func() {
			It("rejects a non-positive attempt budget without calling the operation", func() {
				retrier := resilience.NewRetrier(
					resilience.WithMaxAttempts(0),
					resilience.WithRetryLogger(logger),
				)

				_, err := resilience.Do(ctx, retrier, func(ctx context.Context) (string, error) {
					calls.Add(1)
					return "never", nil
				})
				Expect(err).To(MatchError("max attempts must be positive"))
				Expect(calls.Load()).To(Equal(int32(0)))
			})
		})

		Context("context handling", func() {
			It("fails fast when the context is already done", func() {
				doneCtx, doneCancel := context.WithCancel(ctx)
				doneCancel()

				retrier := resilience.NewRetrier(
					resilience.WithMaxAttempts(3),
					resilience.WithConstantBackoff(5*time.Millisecond),
					resilience.WithRetryLogger(logger),
				)

				_, err := resilience.Do(doneCtx, retrier, func(ctx context.Context) (string, error) {
					calls.Add(1)
					return "never", nil
				})
				Expect(err).To(MatchError(context.Canceled))
				Expect(calls.Load()).To(Equal(int32(0)))
			})

			It("stops retrying when the context is cancelled mid-backoff", func() {
				opCtx, opCancel := context.WithCancel(ctx)
				defer opCancel()

				retrier := resilience.NewRetrier(
					resilience.WithMaxAttempts(10),
					resilience.WithConstantBackoff(50*time.Millisecond),
					resilience.WithRetryLogger(logger),
				)

				_, err := resilience.Do(opCtx, retrier, func(ctx context.Context) (string, error) {
					if calls.Add(1) == 2 {
						opCancel()
					}
					return "", resilience.NewClassifiedError(resilience.FailureUnavailable, errors.New("still down"))
				})
				Expect(err).To(MatchError(context.Canceled))
				Expect(calls.Load()).To(Equal(int32(2)))
			})
		})

		Context("backoff pacing", func() {
			It("waits the exponential delays between attempts", func() {
				retrier := resilience.NewRetrier(
					resilience.WithMaxAttempts(3),
					resilience.WithExponentialBackoff(20*time.Millisecond, time.Second),
					resilience.WithRetryLogger(logger),
				)

				start := time.Now()
				_, err := resilience.Do(ctx, retrier, func(ctx context.Context) (string, error) {
					calls.Add(1)
					return "", resilience.NewClassifiedError(resilience.FailureTimeout, errors.New("timed out"))
				})
				elapsed := time.Since(start)

				Expect(err).To(HaveOccurred())
				Expect(calls.Load()).To(Equal(int32(3)))
				// Delays of 20ms and 40ms before the second and third attempts.
				Expect(elapsed).To(BeNumerically(">=", 60*time.Millisecond))
			})

			It("clamps delays at the configured maximum", func() {
				retrier := resilience.NewRetrier(
					resilience.WithMaxAttempts(4),
					resilience.WithExponentialBackoff(10*time.Millisecond, 15*time.Millisecond),
					resilience.WithRetryLogger(logger),
				)

				start := time.Now()
				_, _ = resilience.Do(ctx, retrier, func(ctx context.Context) (string, error) {
					calls.Add(1)
					return "", resilience.NewClassifiedError(resilience.FailureTimeout, errors.New("timed out"))
				})
				elapsed := time.Since(start)

				Expect(calls.Load()).To(Equal(int32(4)))
				// Delays of 10ms, 15ms, 15ms once the clamp kicks in.
				Expect(elapsed).To(BeNumerically(">=", 40*time.Millisecond))
				Expect(elapsed).To(BeNumerically("<", time.Second))
			})

			It("grows delays by a custom multiplier", func() {
				retrier := resilience.NewRetrier(
					resilience.WithMaxAttempts(3),
					resilience.WithExponentialBackoff(10*time.Millisecond, time.Second),
					resilience.WithMultiplier(3.0),
					resilience.WithRetryLogger(logger),
				)

				start := time.Now()
				_, _ = resilience.Do(ctx, retrier, func(ctx context.Context) (string, error) {
					calls.Add(1)
					return "", resilience.NewClassifiedError(resilience.FailureTimeout, errors.New("timed out"))
				})
				elapsed := time.Since(start)

				Expect(calls.Load()).To(Equal(int32(3)))
				// Delays of 10ms and 30ms before the second and third attempts.
				Expect(elapsed).To(BeNumerically(">=", 40*time.Millisecond))
			})

			It("keeps a flat delay under the constant strategy", func() {
				retrier := resilience.NewRetrier(
					resilience.WithMaxAttempts(3),
					resilience.WithConstantBackoff(15*time.Millisecond),
					resilience.WithRetryLogger(logger),
				)

				start := time.Now()
				_, _ = resilience.Do(ctx, retrier, func(ctx context.Context) (string, error) {
					calls.Add(1)
					return "", resilience.NewClassifiedError(resilience.FailureTimeout, errors.New("timed out"))
				})
				elapsed := time.Since(start)

				Expect(calls.Load()).To(Equal(int32(3)))
				Expect(elapsed).To(BeNumerically(">=", 30*time.Millisecond))
				Expect(elapsed).To(BeNumerically("<", 200*time.Millisecond))
			})
		})

		Context("stats accumulation", func() {
			It("accumulates stats across operations on the same retrier", func() {
				retrier := resilience.NewRetrier(
					resilience.WithMaxAttempts(2),
					resilience.WithConstantBackoff(5*time.Millisecond),
					resilience.WithRetryLogger(logger),
				)

				_, err := resilience.Do(ctx, retrier, func(ctx context.Context) (string, error) {
					return "first", nil
				})
				Expect(err).NotTo(HaveOccurred())

				_, err = resilience.Do(ctx, retrier, func(ctx context.Context) (string, error) {
					return "", resilience.NewClassifiedError(resilience.FailureTimeout, errors.New("timed out"))
				})
				Expect(err).To(HaveOccurred())

				stats := retrier.GetRetryStats()
				Expect(stats.TotalAttempts).To(Equal(int64(3)))
				Expect(stats.TotalRetries).To(Equal(int64(1)))
				Expect(stats.TotalSuccesses).To(Equal(int64(1)))
				Expect(stats.TotalFailures).To(Equal(int64(1)))
				Expect(stats.LastError).To(HaveOccurred())
				Expect(stats.LastAttemptTime).NotTo(BeZero())
			})
		})
	})
})
