package replication

import (
	"context"
	"time"

	"neptunesearch.evalgo.org/common"
	"neptunesearch.evalgo.org/config"
	"neptunesearch.evalgo.org/db"
)

// Iterator is the loop state the orchestrator threads through poll cycles.
type Iterator struct {
	Index    int `json:"index"`
	Count    int `json:"count"`
	WaitTime int `json:"wait_time"`
}

// CycleInput is the invocation payload of one poll cycle.
type CycleInput struct {
	Iterator Iterator `json:"iterator"`
}

// CycleOutput is returned to the orchestrator after one poll cycle.
type CycleOutput struct {
	Index    int  `json:"index"`
	Continue bool `json:"continue"`
	Count    int  `json:"count"`
	WaitTime int  `json:"wait_time"`
}

// Poller runs bounded poll cycles. Each cycle takes the lease, polls the
// stream until it drains or 90% of the polling interval elapsed, and always
// evicts the lease on the way out. Mutual exclusion between redundant
// invocations is enforced entirely by the lease's conditional writes.
type Poller struct {
	cfg       *config.Provider
	store     db.LeaseStore
	processor *Processor
}

// NewPoller wires a poller from its collaborators.
func NewPoller(cfg *config.Provider, store db.LeaseStore, processor *Processor) *Poller {
	return &Poller{cfg: cfg, store: store, processor: processor}
}

// RunPollCycle executes one poll cycle and computes the next iterator
// state. A busy lease is a hard failure: another runner is active.
func (p *Poller) RunPollCycle(ctx context.Context, input CycleInput) (*CycleOutput, error) {
	leaseKey := p.cfg.ApplicationName
	owner := p.cfg.ApplicationName

	if err := p.store.CreateIfAbsent(ctx, leaseKey); err != nil {
		return nil, err
	}

	common.Logger.WithField("leaseOwner", owner).Info("Taking lease")
	lease, err := p.store.Take(ctx, leaseKey, owner)
	if err != nil {
		return nil, err
	}

	// Time to stop continuous polling from the stream if not otherwise
	// stopped.
	deadline := time.Now().Add(time.Duration(0.9 * float64(p.cfg.MaxPollingInterval)))
	waitTime := time.Duration(input.Iterator.WaitTime) * time.Second

	cycleErr := func() error {
		defer func() {
			common.Logger.WithField("leaseKey", leaseKey).Info("Evicting lease")
			if err := p.store.Evict(ctx, leaseKey, owner); err != nil {
				common.Logger.WithError(err).Error("Failed to evict lease")
			}
		}()

		for time.Now().Before(deadline) {
			more, err := p.processor.ProcessWithMetrics(ctx, lease, p.store)
			if err != nil {
				return err
			}
			if more {
				// Records were found, no wait before the next poll.
				waitTime = 0
				continue
			}
			waitTime = common.NextWaitTime(p.cfg.MaxPollingWaitTime, waitTime)
			if waitTime > 0 {
				common.Logger.WithField("waitTime", waitTime.String()).Info("Waiting before next polling")
				break
			}
		}
		return nil
	}()
	if cycleErr != nil {
		common.Logger.WithError(cycleErr).Error("Error occurred while processing records")
		return nil, cycleErr
	}

	index := input.Iterator.Index + 1
	output := &CycleOutput{
		Index:    index,
		Continue: index < input.Iterator.Count,
		Count:    input.Iterator.Count,
		WaitTime: int(waitTime.Seconds()),
	}
	common.Logger.WithFields(map[string]interface{}{
		"index":     output.Index,
		"continue":  output.Continue,
		"wait_time": output.WaitTime,
	}).Info("Finished poll cycle")
	return output, nil
}
