package backup

import (
	"context"
	"sync"
	"time"

	"github.com/nmuller/rosbak/internal/inventory"
	"github.com/nmuller/rosbak/internal/retention"
)

// Run executes one backup pass: one task per router on a pool of
// Workers goroutines, then a single retention pass over the backup
// directory. Routers are independent; a failed task never affects its
// siblings. The run timestamp shared by all artifact names is computed
// once, here.
func (c *Client) Run(ctx context.Context, routers []inventory.Router) *Report {
	runTimestamp := time.Now().Format(timestampLayout)

	c.log.Info().
		Int("routers", len(routers)).
		Int("workers", c.opts.Workers).
		Str("run", runTimestamp).
		Msg("starting backup pass")

	jobs := make(chan inventory.Router)
	results := make(chan RouterResult)

	var wg sync.WaitGroup
	for i := 0; i < c.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for router := range jobs {
				results <- c.backupRouter(ctx, router, runTimestamp)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, router := range routers {
			select {
			case jobs <- router:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	report := &Report{}
	for res := range results {
		if res.State == StateFailed {
			c.log.Error().
				Str("router", res.Router.Name).
				Str("address", res.Router.Address).
				Err(res.Err).
				Msg("router backup failed")
		} else {
			c.log.Info().
				Str("router", res.Router.Name).
				Str("address", res.Router.Address).
				Strs("artifacts", res.Artifacts).
				Msg("router backup complete")
		}
		report.Results = append(report.Results, res)
	}

	// All downloads have reached a terminal state; the retention pass
	// cannot race an in-flight write.
	renamed, err := retention.AgeOut(c.opts.BackupDir, retention.Policy{MaxAgeDays: c.opts.MaxAgeDays}, c.log)
	if err != nil {
		c.log.Error().Err(err).Msg("retention pass failed")
	}
	report.Renamed = renamed

	c.log.Info().
		Int("succeeded", report.Succeeded()).
		Int("failed", report.Failed()).
		Int("renamed", report.Renamed).
		Msg("backup pass finished")

	return report
}

// backupRouter runs the connect → list → download chain for one router.
// Every error is caught here and converted into a failed result.
func (c *Client) backupRouter(ctx context.Context, router inventory.Router, runTimestamp string) RouterResult {
	res := RouterResult{Router: router, State: StatePending}

	fail := func(err error) RouterResult {
		res.State = StateFailed
		res.Err = err
		return res
	}

	res.State = StateConnecting
	sess, err := c.dialer.Connect(ctx, router.Address)
	if err != nil {
		return fail(err)
	}
	defer sess.Close()

	res.State = StateListing
	files, err := sess.ListMatching(c.opts.RemoteDir, c.opts.Targets)
	if err != nil {
		return fail(err)
	}
	if len(files) == 0 {
		c.log.Warn().Str("router", router.Name).Msg("no export files found on router")
	}

	res.State = StateDownloading
	for _, file := range files {
		name, err := c.download(sess, router, file, runTimestamp)
		if err != nil {
			return fail(err)
		}
		res.Artifacts = append(res.Artifacts, name)

		if c.opts.Mirror != nil {
			if err := c.mirror(ctx, router, name, file.Name, runTimestamp); err != nil {
				return fail(err)
			}
		}

		c.log.Debug().
			Str("router", router.Name).
			Str("file", file.Name).
			Str("artifact", name).
			Msg("downloaded export file")
	}

	res.State = StateDone
	return res
}
