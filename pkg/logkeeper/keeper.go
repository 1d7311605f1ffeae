// Package logkeeper collects the request logs that the client and the mock API ship to Kafka.
package logkeeper

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"seertix/pkg/logger"
)

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Sink stores one log entry. Storing the same entry twice must not duplicate it.
type Sink interface {
	Store(ctx context.Context, entry logger.LogEntry, raw []byte) error
}

type Keeper struct {
	reader  MessageReader
	sink    Sink
	workers int

	stored atomic.Int64
	failed atomic.Int64
}

func New(r MessageReader, sink Sink, workers int) *Keeper {
	if workers < 1 {
		workers = 1
	}
	return &Keeper{reader: r, sink: sink, workers: workers}
}

// Run consumes messages until ctx is cancelled, then waits for the workers to drain the queue.
func (k *Keeper) Run(ctx context.Context) {
	jobs := make(chan kafka.Message, k.workers*5) // buffer is needed to increase throughput
	var wg sync.WaitGroup
	wg.Add(k.workers)
	for workerID := 0; workerID < k.workers; workerID++ {
		go func(id int) {
			defer wg.Done()
			k.worker(ctx, jobs, id)
		}(workerID)
	}

	log.Info("[logkeeper] accepting logs...")
loop:
	for {
		msg, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				break loop
			}
			log.Errorf("[logkeeper] failed to read message from Kafka: %v", err)
			continue
		}
		log.Debugf("[logkeeper] received message: %s", string(msg.Value))

		select {
		case jobs <- msg:
		case <-ctx.Done():
			break loop
		}
	}

	close(jobs)
	wg.Wait()
	log.Infof("[logkeeper] stopped, %d entries stored, %d failed", k.stored.Load(), k.failed.Load())
}

func (k *Keeper) worker(ctx context.Context, jobs <-chan kafka.Message, workerID int) {
	for msg := range jobs {
		var entry logger.LogEntry
		if err := json.Unmarshal(msg.Value, &entry); err != nil {
			log.Errorf("[logkeeper][workerID:%d] failed to unmarshal log entry: %v", workerID, err)
			k.failed.Add(1)
			continue
		}

		// Entries already read are stored even while shutting down.
		if err := k.sink.Store(context.WithoutCancel(ctx), entry, msg.Value); err != nil {
			log.Errorf("[logkeeper][workerID:%d] failed to store log entry: %v", workerID, err)
			k.failed.Add(1)
			continue
		}
		k.stored.Add(1)
		log.Debugf("[logkeeper][workerID:%d][%s] log entry stored", workerID, logger.Shorten(entry.RequestID))
	}
	log.Debugf("[logkeeper][workerID:%d] jobs channel closed, exiting worker", workerID)
}

func (k *Keeper) Stored() int64 { return k.stored.Load() }

func (k *Keeper) Failed() int64 { return k.failed.Load() }
