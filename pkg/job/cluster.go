package job

import (
	"context"

	"go.temporal.io/sdk/client"

	"github.com/Nanguage/executor/internal/resource"
	srvErrors "github.com/Nanguage/executor/pkg/errors"
)

// clusterBackend submits the job to the cluster workflow service. The
// callable reference is interpreted as a workflow type name registered on
// the cluster's workers; only positional arguments are supported. The
// client is dialed lazily by the engine and shared across cluster jobs.
type clusterBackend struct{}

func (clusterBackend) Name() string { return "cluster" }

func (clusterBackend) Classes() []resource.Class {
	return []resource.Class{resource.Cluster}
}

func (clusterBackend) Run(ctx context.Context, e Engine, j *Job) (any, error) {
	if j.workflow == "" {
		return nil, srvErrors.NewInternalError("job %s has no workflow type", j.id)
	}
	args, kwargs := j.callArgs()
	if len(kwargs) > 0 {
		return nil, srvErrors.NewInternalError("cluster job %s: named arguments are not supported", j.id)
	}

	c, err := e.ClusterClient()
	if err != nil {
		return nil, err
	}
	options := client.StartWorkflowOptions{
		ID:        workflowID(j),
		TaskQueue: e.Config().Cluster.TaskQueue,
	}
	run, err := c.ExecuteWorkflow(ctx, options, j.workflow, args...)
	if err != nil {
		return nil, err
	}
	j.setHandle(run)

	var out any
	if err := run.Get(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (clusterBackend) CancelRunning(e Engine, j *Job) {
	c, err := e.ClusterClient()
	if err != nil {
		log().Warnw("cannot cancel cluster job, client unavailable", "job", j.id, "error", err)
		return
	}
	if err := c.CancelWorkflow(context.Background(), workflowID(j), ""); err != nil {
		log().Warnw("failed to cancel cluster workflow", "job", j.id, "error", err)
	}
}

func (clusterBackend) ClearContext(j *Job) {
	j.setHandle(nil)
}

func workflowID(j *Job) string {
	return "executor-job-" + j.id
}
