package config_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	resilience "github.com/noteflow/go-resilience"
	"github.com/noteflow/go-resilience/config"
)

var _ = Describe("Config", func() {
	Describe("Default", func() {
		It("carries the documented safe defaults", func() {
			cfg := config.Default()

			Expect(cfg.Retry.MaxAttempts).To(Equal(3))
			Expect(cfg.Retry.Strategy).To(Equal("exponential"))
			Expect(cfg.Retry.InitialDelay).To(Equal(time.Second))
			Expect(cfg.Retry.MaxDelay).To(Equal(30 * time.Second))
			Expect(cfg.Retry.BackoffMultiplier).To(Equal(2.0))
			Expect(cfg.Retry.RetryableFailureKinds).To(Equal(
				[]string{"timeout", "connection", "throttled", "unavailable"}))

			Expect(cfg.Breaker.FailureThreshold).To(Equal(uint32(5)))
			Expect(cfg.Breaker.SuccessThreshold).To(Equal(uint32(2)))
			Expect(cfg.Breaker.Timeout).To(Equal(30 * time.Second))
			Expect(cfg.Breaker.HalfOpenMaxProbes).To(Equal(uint32(3)))

			Expect(cfg.Stampede.LockTimeout).To(Equal(30 * time.Second))
			Expect(cfg.Stampede.LockRetryDelay).To(Equal(50 * time.Millisecond))
			Expect(cfg.Stampede.MaxLockWaitRetries).To(Equal(10))
			Expect(cfg.Stampede.Beta).To(Equal(1.0))
			Expect(cfg.Stampede.SweepInterval).To(Equal(time.Minute))

			Expect(cfg.Redis.Addr).To(Equal("localhost:6379"))
			Expect(cfg.Storage.Bucket).To(Equal("media"))
		})
	})

	Describe("Load", func() {
		It("applies defaults for an empty environment", func() {
			cfg, err := config.Load()

			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).To(Equal(config.Default()))
		})

		It("reads overrides from the environment", func() {
			GinkgoT().Setenv("NOTEFLOW_RETRY_MAX_ATTEMPTS", "5")
			GinkgoT().Setenv("NOTEFLOW_RETRY_RETRYABLE_FAILURE_KINDS", "timeout,throttled")
			GinkgoT().Setenv("NOTEFLOW_BREAKER_TIMEOUT", "1m")
			GinkgoT().Setenv("NOTEFLOW_STAMPEDE_BETA", "2.5")
			GinkgoT().Setenv("NOTEFLOW_REDIS_ADDR", "cache.internal:6379")
			GinkgoT().Setenv("NOTEFLOW_STORAGE_USE_SSL", "true")

			cfg, err := config.Load()

			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Retry.MaxAttempts).To(Equal(5))
			Expect(cfg.Retry.RetryableFailureKinds).To(Equal([]string{"timeout", "throttled"}))
			Expect(cfg.Breaker.Timeout).To(Equal(time.Minute))
			Expect(cfg.Stampede.Beta).To(Equal(2.5))
			Expect(cfg.Redis.Addr).To(Equal("cache.internal:6379"))
			Expect(cfg.Storage.UseSSL).To(BeTrue())
		})

		It("rejects unparseable values", func() {
			GinkgoT().Setenv("NOTEFLOW_RETRY_INITIAL_DELAY", "soon")

			_, err := config.Load()

			Expect(err).To(HaveOccurred())
		})
	})

	Describe("LoadOrDefault", func() {
		It("falls back to defaults when the environment is broken", func() {
			GinkgoT().Setenv("NOTEFLOW_BREAKER_FAILURE_THRESHOLD", "many")

			cfg := config.LoadOrDefault(nil)

			Expect(cfg).To(Equal(config.Default()))
		})
	})

	Describe("RetryConfig", func() {
		It("converts settings including the kind list", func() {
			cfg := config.Default()
			cfg.Retry.RetryableFailureKinds = []string{"timeout", "unavailable"}

			retryConfig, err := cfg.Retry.RetryConfig()

			Expect(err).NotTo(HaveOccurred())
			Expect(retryConfig.MaxAttempts).To(Equal(3))
			Expect(retryConfig.Strategy).To(Equal(resilience.RetryStrategyExponential))
			Expect(retryConfig.Multiplier).To(Equal(2.0))
			Expect(retryConfig.RetryableKinds).To(Equal(
				[]resilience.FailureKind{resilience.FailureTimeout, resilience.FailureUnavailable}))
		})

		It("rejects unknown failure kinds", func() {
			cfg := config.Default()
			cfg.Retry.RetryableFailureKinds = []string{"gremlins"}

			_, err := cfg.Retry.RetryConfig()

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("gremlins"))
		})
	})

	Describe("BreakerConfig", func() {
		It("converts settings one to one", func() {
			cfg := config.Default()
			cfg.Breaker.FailureThreshold = 7

			breakerConfig := cfg.Breaker.BreakerConfig()

			Expect(breakerConfig.FailureThreshold).To(Equal(uint32(7)))
			Expect(breakerConfig.SuccessThreshold).To(Equal(uint32(2)))
			Expect(breakerConfig.Timeout).To(Equal(30 * time.Second))
			Expect(breakerConfig.HalfOpenMaxProbes).To(Equal(uint32(3)))
		})
	})

	Describe("Stampede Options", func() {
		It("produces one option per knob", func() {
			Expect(config.Default().Stampede.Options()).To(HaveLen(4))
		})
	})

	Describe("Storage MinIOConfig", func() {
		It("converts settings one to one", func() {
			cfg := config.Default()
			cfg.Storage.Endpoint = "minio.internal:9000"
			cfg.Storage.UseSSL = true

			minioConfig := cfg.Storage.MinIOConfig()

			Expect(minioConfig.Endpoint).To(Equal("minio.internal:9000"))
			Expect(minioConfig.Bucket).To(Equal("media"))
			Expect(minioConfig.UseSSL).To(BeTrue())
		})
	})
})
