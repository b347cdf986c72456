package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Nanguage/executor/internal/config"
)

var _ = Describe("Configuration", func() {
	Describe("Default", func() {
		It("should apply documented defaults", func() {
			c := config.Default()

			Expect(c.MaxJobs).To(Equal(20))
			Expect(c.MaxThreads).To(Equal(0))
			Expect(c.MaxProcesses).To(Equal(0))
			Expect(c.MaxClusterJobs).To(Equal(0))
			Expect(c.Cluster.HostPort).To(Equal("127.0.0.1:7233"))
			Expect(c.Cluster.Namespace).To(Equal("default"))
			Expect(c.Cluster.TaskQueue).To(Equal("executor"))
			Expect(c.LogLevel).To(Equal("info"))
			Expect(c.LogFormat).To(Equal("console"))
		})
	})

	Describe("Load", func() {
		var dir string

		BeforeEach(func() {
			dir = GinkgoT().TempDir()
		})

		It("should overlay file values on defaults", func() {
			path := filepath.Join(dir, "executor.yaml")
			content := []byte("max_jobs: 4\nmax_processes: 2\ncluster:\n  task_queue: batch\n")
			Expect(os.WriteFile(path, content, 0o600)).To(Succeed())

			c, err := config.Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.MaxJobs).To(Equal(4))
			Expect(c.MaxProcesses).To(Equal(2))
			Expect(c.Cluster.TaskQueue).To(Equal("batch"))
			// untouched fields keep their defaults
			Expect(c.Cluster.HostPort).To(Equal("127.0.0.1:7233"))
			Expect(c.LogLevel).To(Equal("info"))
		})

		It("should fail on a missing file", func() {
			_, err := config.Load(filepath.Join(dir, "absent.yaml"))
			Expect(err).To(HaveOccurred())
		})
	})
})
