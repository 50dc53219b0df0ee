package loner_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/VsevolodSauta/loner"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LoadConfig", func() {
	setenv := func(key, value string) {
		previous, had := os.LookupEnv(key)
		Expect(os.Setenv(key, value)).To(Succeed())
		DeferCleanup(func() {
			if had {
				_ = os.Setenv(key, previous)
			} else {
				_ = os.Unsetenv(key)
			}
		})
	}

	BeforeEach(func() {
		for _, key := range []string{"LONER_SCAN_BATCH_SIZE", "LONER_BATCH_SIZE", "LONER_POLL_INTERVAL"} {
			setenv(key, "")
		}
	})

	It("should use defaults when nothing is set", func() {
		cfg := loner.LoadConfig()
		Expect(cfg.ScanBatchSize).To(Equal(500))
		Expect(cfg.BatchSize).To(Equal(10))
		Expect(cfg.PollInterval).To(Equal(time.Second))
	})

	It("should read the environment", func() {
		setenv("LONER_SCAN_BATCH_SIZE", "1000")
		setenv("LONER_BATCH_SIZE", "25")
		setenv("LONER_POLL_INTERVAL", "250ms")

		cfg := loner.LoadConfig()
		Expect(cfg.ScanBatchSize).To(Equal(1000))
		Expect(cfg.BatchSize).To(Equal(25))
		Expect(cfg.PollInterval).To(Equal(250 * time.Millisecond))
	})

	It("should read a poll interval in whole seconds", func() {
		setenv("LONER_POLL_INTERVAL", "5")
		Expect(loner.LoadConfig().PollInterval).To(Equal(5 * time.Second))
	})

	It("should ignore invalid values", func() {
		setenv("LONER_SCAN_BATCH_SIZE", "-3")
		setenv("LONER_BATCH_SIZE", "many")
		setenv("LONER_POLL_INTERVAL", "soon")

		cfg := loner.LoadConfig()
		Expect(cfg.ScanBatchSize).To(Equal(500))
		Expect(cfg.BatchSize).To(Equal(10))
		Expect(cfg.PollInterval).To(Equal(time.Second))
	})
})

var _ = Describe("LoadRegistry", func() {
	const declarations = `
types:
  - name: SendEmail
    queue: emails
    unique: true
    queue_ttl: forever
    post_execution_ttl: 0
  - name: Reports::Monthly
    unique: true
    queue_ttl: 3600
    post_execution_ttl: 5m
  - name: Legacy
    unique: true
    queue_ttl: -1
    post_execution_ttl: -1
  - name: Plain
    queue: plain
`

	It("should register every declared type", func() {
		registry, err := loner.LoadRegistry(strings.NewReader(declarations))
		Expect(err).NotTo(HaveOccurred())
		resolver := loner.NewPolicyResolver(registry, testLogger())

		policy, ok := resolver.Resolve("send-email")
		Expect(ok).To(BeTrue())
		Expect(policy.QueueTTL.IsForever()).To(BeTrue())
		Expect(policy.PostExecutionTTL.Duration()).To(BeZero())

		policy, ok = resolver.Resolve("Reports::Monthly")
		Expect(ok).To(BeTrue())
		Expect(policy.QueueTTL).To(Equal(loner.Seconds(3600)))
		Expect(policy.PostExecutionTTL).To(Equal(loner.After(5 * time.Minute)))

		policy, ok = resolver.Resolve("Legacy")
		Expect(ok).To(BeTrue())
		Expect(policy.QueueTTL.IsForever()).To(BeTrue())
		Expect(policy.PostExecutionTTL.IsForever()).To(BeTrue())

		_, ok = resolver.Resolve("Plain")
		Expect(ok).To(BeFalse())
	})

	It("should expose the declared queue", func() {
		registry, err := loner.LoadRegistry(strings.NewReader(declarations))
		Expect(err).NotTo(HaveOccurred())

		ref, err := registry.ResolveType("SendEmail")
		Expect(err).NotTo(HaveOccurred())
		namer, ok := ref.Type.(loner.QueueNamer)
		Expect(ok).To(BeTrue())
		Expect(namer.Queue()).To(Equal("emails"))
	})

	It("should accept an empty document", func() {
		registry, err := loner.LoadRegistry(strings.NewReader(""))
		Expect(err).NotTo(HaveOccurred())
		_, err = registry.ResolveType("SendEmail")
		Expect(errors.Is(err, loner.ErrUnknownJobType)).To(BeTrue())
	})

	It("should reject unknown fields", func() {
		_, err := loner.LoadRegistry(strings.NewReader("types:\n  - name: A\n    uniq: true\n"))
		Expect(err).To(HaveOccurred())
	})

	It("should reject an entry without a name", func() {
		_, err := loner.LoadRegistry(strings.NewReader("types:\n  - unique: true\n"))
		Expect(err).To(HaveOccurred())
	})

	It("should reject an invalid ttl", func() {
		_, err := loner.LoadRegistry(strings.NewReader("types:\n  - name: A\n    queue_ttl: later\n"))
		Expect(err).To(HaveOccurred())
	})

	It("should reject duplicate names", func() {
		_, err := loner.LoadRegistry(strings.NewReader("types:\n  - name: A\n  - name: A\n"))
		Expect(errors.Is(err, loner.ErrDuplicateType)).To(BeTrue())
	})

	It("should read a registry file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "types.yaml")
		Expect(os.WriteFile(path, []byte(declarations), 0o600)).To(Succeed())

		registry, err := loner.LoadRegistryFile(path)
		Expect(err).NotTo(HaveOccurred())
		_, err = registry.ResolveType("Reports::Monthly")
		Expect(err).NotTo(HaveOccurred())
	})

	It("should report a missing registry file", func() {
		_, err := loner.LoadRegistryFile(filepath.Join(GinkgoT().TempDir(), "missing.yaml"))
		Expect(err).To(HaveOccurred())
	})
})
