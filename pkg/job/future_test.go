package job_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	srvErrors "github.com/Nanguage/executor/pkg/errors"
	"github.com/Nanguage/executor/pkg/job"
)

var _ = Describe("Future", func() {
	square := func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		x := args[0].(int)
		return x * x, nil
	}

	It("should expose the owning job id", func() {
		j := job.NewLocalJob(square, job.WithArgs(2))
		Expect(j.Future().JobID()).To(Equal(j.ID()))
	})

	It("should fail Result before the job is done", func() {
		j := job.NewLocalJob(square, job.WithArgs(2))

		_, err := j.Future().Result()
		Expect(err).To(HaveOccurred())
		Expect(srvErrors.IsInvalidStateError(err)).To(BeTrue())
		Expect(j.Future().Err()).To(BeNil())
	})

	It("should not fire callbacks at registration", func() {
		j := job.NewLocalJob(square)
		var order []int
		j.Future().AddDoneCallback(func(any) { order = append(order, 1) })
		j.Future().AddDoneCallback(func(any) { order = append(order, 2) })
		// callbacks only fire on a transition; registering them runs nothing
		Expect(order).To(BeEmpty())
	})
})

var _ = Describe("Job construction", func() {
	It("should default the name from the callable", func() {
		j := job.NewLocalJob(func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
			return nil, nil
		})
		Expect(j.Name()).NotTo(BeEmpty())
		Expect(j.Status()).To(Equal(job.StatusCreated))
	})

	It("should apply options", func() {
		errs := make(chan error, 1)
		j := job.NewGoroutineJob(nil,
			job.WithName("fetch"),
			job.WithArgs(1, "a"),
			job.WithKwargs(map[string]any{"k": 2}),
			job.WithRetries(3),
			job.WithRetryDelay(time.Second),
			job.WithPollInterval(5*time.Millisecond),
			job.WithErrorCallback(func(err error) { errs <- err }),
		)

		Expect(j.Name()).To(Equal("fetch"))
		Expect(j.Retries()).To(Equal(3))
		Expect(j.RetryRemain()).To(Equal(3))
		Expect(j.CreatedAt()).NotTo(BeZero())
		Expect(j.SubmittedAt()).To(BeNil())
	})

	It("should name process jobs after the command", func() {
		j := job.NewProcessJob([]string{"/bin/echo", "hi"})
		Expect(j.Name()).To(Equal("echo"))
		Expect(j.Backend().Name()).To(Equal("process"))
	})

	It("should clamp negative retry settings", func() {
		j := job.NewLocalJob(nil, job.WithRetries(-1), job.WithRetryDelay(-time.Second))
		Expect(j.Retries()).To(Equal(0))
	})
})

var _ = Describe("Cancel before emission", func() {
	It("should be a no-op on a created job", func() {
		e := newFakeEngine()
		j := job.NewLocalJob(nil)
		j.Cancel(e)
		Expect(j.Status()).To(Equal(job.StatusCreated))
	})
})

var _ = Describe("Wait before emission", func() {
	It("should fail with InvalidState", func() {
		j := job.NewLocalJob(nil)
		err := j.Wait(context.Background())
		Expect(srvErrors.IsInvalidStateError(err)).To(BeTrue())
	})
})

var _ = Describe("Error taxonomy", func() {
	It("should unwrap backend errors to the cause", func() {
		cause := errors.New("boom")
		wrapped := srvErrors.NewBackendError(cause)
		Expect(errors.Is(wrapped, cause)).To(BeTrue())
		Expect(srvErrors.IsBackendError(wrapped)).To(BeTrue())
	})
})
