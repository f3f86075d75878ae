// Package cli holds the operator subcommands of the casework binary.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/hibiken/asynq"

	"github.com/giftdrive/casework/jobs"
)

const usage = `usage: casework jobs <command>

commands:
  stats           queue sizes for the notifications queue
  archived [n]    list up to n archived (dead-letter) tasks, default 20
  retry <id>      move an archived task back to pending
  sweep           enqueue the unsent verification sweep now`

type inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	RunTask(queue, id string) error
	Close() error
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for the notification queue.
type JobsCLI struct {
	client    enqueuer
	inspector inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) *JobsCLI {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		err = errors.Join(err, c.inspector.Close())
	}
	if c.client != nil {
		err = errors.Join(err, c.client.Close())
	}
	return err
}

// Run executes one subcommand and writes its output to out.
func (c *JobsCLI) Run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	switch args[0] {
	case "stats":
		return c.stats(out)
	case "archived":
		size := 20
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return fmt.Errorf("jobs cli: invalid size %q", args[1])
			}
			size = n
		}
		return c.archived(out, size)
	case "retry":
		if len(args) < 2 {
			return errors.New("jobs cli: retry needs a task id")
		}
		if err := c.inspector.RunTask(jobs.QueueNotifications, args[1]); err != nil {
			return fmt.Errorf("jobs cli: retry %s: %w", args[1], err)
		}
		_, err := fmt.Fprintf(out, "task %s moved to pending\n", args[1])
		return err
	case "sweep":
		info, err := c.client.EnqueueContext(ctx, jobs.NewSweepTask(), asynq.Queue(jobs.QueueNotifications), asynq.MaxRetry(jobs.MaxRetry))
		if err != nil {
			return fmt.Errorf("jobs cli: enqueue sweep: %w", err)
		}
		_, err = fmt.Fprintf(out, "enqueued %s (%s)\n", info.Type, info.ID)
		return err
	default:
		return fmt.Errorf("jobs cli: unknown command %q\n%s", args[0], usage)
	}
}

func (c *JobsCLI) stats(out io.Writer) error {
	info, err := c.inspector.GetQueueInfo(jobs.QueueNotifications)
	if err != nil {
		return fmt.Errorf("jobs cli: queue info: %w", err)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "queue\tpending\tactive\tscheduled\tretry\tarchived\n")
	fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", info.Queue, info.Pending, info.Active, info.Scheduled, info.Retry, info.Archived)
	return tw.Flush()
}

func (c *JobsCLI) archived(out io.Writer, size int) error {
	tasks, err := c.inspector.ListArchivedTasks(jobs.QueueNotifications, asynq.PageSize(size), asynq.Page(1))
	if err != nil {
		return fmt.Errorf("jobs cli: list archived: %w", err)
	}
	if len(tasks) == 0 {
		_, err := fmt.Fprintln(out, "no archived tasks")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id\ttype\tretried\tlast error\n")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", t.ID, t.Type, t.Retried, t.LastErr)
	}
	return tw.Flush()
}
