package replication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"neptunesearch.evalgo.org/common"
	"neptunesearch.evalgo.org/db"
	"neptunesearch.evalgo.org/metrics"
	"neptunesearch.evalgo.org/stream"
)

// Processor drives one read-transform-execute step: it fetches a windowed
// batch from the stream at the lease's checkpoint, hands it to the handler,
// advances the checkpoint after a successful bulk, and emits counters.
type Processor struct {
	reader    *stream.Reader
	handler   Handler
	metrics   metrics.Sink
	batchSize int
}

// NewProcessor wires a processor from its collaborators.
func NewProcessor(reader *stream.Reader, handler Handler, sink metrics.Sink, batchSize int) *Processor {
	return &Processor{
		reader:    reader,
		handler:   handler,
		metrics:   sink,
		batchSize: batchSize,
	}
}

// ProcessWithMetrics performs one step against the given lease. The first
// return reports whether more records may be waiting: false means the
// stream is drained and the caller should back off.
//
// The checkpoint advances only after the bulk completed, so a crash at any
// point re-delivers at least the unacknowledged suffix; the idempotent
// scripts make that re-delivery safe.
func (p *Processor) ProcessWithMetrics(ctx context.Context, lease *db.Lease, store db.LeaseStore) (bool, error) {
	common.Logger.WithFields(map[string]interface{}{
		"commitNum": lease.Checkpoint,
		"opNum":     lease.CheckpointSubSequenceNumber,
		"limit":     p.batchSize,
	}).Info("Reading records from stream")

	batch, err := p.reader.Fetch(ctx, p.batchSize, lease.Checkpoint, lease.CheckpointSubSequenceNumber)
	if err != nil {
		if errors.Is(err, stream.ErrEndOfStream) {
			if err := p.metrics.PublishRecordsProcessed(ctx, 0); err != nil {
				return false, err
			}
			if err := p.metrics.PublishStreamLag(ctx, 0); err != nil {
				return false, err
			}
			common.Logger.Info("No more stream records to process")
			return false, nil
		}
		return false, err
	}

	common.Logger.Info("Start processing stream records...")
	response, err := p.handler.HandleRecords(ctx, batch)
	if err != nil {
		return false, err
	}

	lease.Checkpoint = response.LastCommitNum
	lease.CheckpointSubSequenceNumber = response.LastOpNum
	common.Logger.WithFields(map[string]interface{}{
		"checkpoint":        lease.Checkpoint,
		"subSequenceNumber": lease.CheckpointSubSequenceNumber,
	}).Info("Updating lease with checkpoint")
	if err := store.Advance(ctx, lease.LeaseKey, lease.LeaseOwner, lease.Checkpoint, lease.CheckpointSubSequenceNumber); err != nil {
		return false, err
	}

	if err := p.metrics.PublishRecordsProcessed(ctx, response.RecordsProcessed); err != nil {
		return false, err
	}

	lag := time.Duration(common.CurrentMilliTime()-batch.LastTrxTimestamp) * time.Millisecond
	if err := p.metrics.PublishStreamLag(ctx, lag); err != nil {
		return false, err
	}

	common.Logger.Info(fmt.Sprintf("Finished processing %s stream records. Last processed event id (commitNum, opNum) - %d, %d",
		humanize.Comma(int64(response.RecordsProcessed)), response.LastCommitNum, response.LastOpNum))
	return true, nil
}
