package streamworker

import (
	"context"
	"sync"
	"time"

	"github.com/trakbridge/trakbridge/internal/cot"
	"github.com/trakbridge/trakbridge/internal/models"
	"github.com/trakbridge/trakbridge/internal/plugin"
	"github.com/trakbridge/trakbridge/internal/queue"
)

// runIteration executes one full pass of the loop described in spec.md
// §4.7: fetch, admit, resolve, transform, distribute, book-keep. It never
// panics or returns an error to Run; all failures are recorded via
// recordError/recordSuccess so a single bad iteration cannot stop the
// worker (spec.md §4.7 "Failure semantics").
func (w *Worker) runIteration(ctx context.Context) {
	w.mu.Lock()
	snap := w.snapshot
	w.mu.Unlock()
	if snap == nil {
		return
	}

	p, err := w.opts.Registry.New(snap.Stream.PluginType)
	if err != nil {
		w.recordError(err)
		w.bookkeep(snap.Stream.ID, 0, err)
		return
	}

	locations, err := w.fetchWithRetry(ctx, p, snap)
	if err != nil {
		w.recordError(err)
		w.bookkeep(snap.Stream.ID, 0, err)
		return
	}

	admitted := w.admit(locations)

	mappable, _ := p.(plugin.CallsignMappable)
	result, err := w.opts.Resolver.Resolve(snap.Stream, mappable, admitted)
	if err != nil {
		w.recordError(err)
		w.bookkeep(snap.Stream.ID, 0, err)
		return
	}
	if result.Skipped > 0 {
		w.mu.Lock()
		w.metrics.Skipped += result.Skipped
		w.mu.Unlock()
	}

	frames := w.transform(ctx, snap.Stream, result.Locations)

	sent := 0
	for _, dest := range snap.Destinations {
		if err := w.opts.CotService.Enqueue(ctx, dest, frames); err != nil {
			w.log.Warn("enqueue to destination failed", map[string]interface{}{
				"stream_id": snap.Stream.ID, "tak_server_id": dest.ServerID, "error": err.Error(),
			})
			continue
		}
		sent = len(frames)
	}

	w.recordSuccess()
	w.bookkeep(snap.Stream.ID, sent, nil)
}

// fetchWithRetry implements spec.md §4.7 step 2: RateLimited sleeps the
// advised duration (capped at 5x poll_interval) and retries once;
// Unreachable/MalformedResponse back off exponentially within the
// iteration up to 3 attempts.
func (w *Worker) fetchWithRetry(ctx context.Context, p plugin.Plugin, snap *Snapshot) ([]plugin.Location, error) {
	pollInterval := time.Duration(snap.Stream.PollInterval) * time.Second
	fetchTimeout := pollInterval
	if fetchTimeout <= 0 || fetchTimeout > 30*time.Second {
		fetchTimeout = 30 * time.Second
	}

	var lastErr error
	rateLimitRetried := false
	for attempt := 1; attempt <= DefaultMaxFetchAttempts; attempt++ {
		fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
		fetchStart := time.Now()
		locations, err := p.Fetch(fctx, snap.PluginConfig)
		cancel()
		if w.opts.Metrics != nil {
			w.opts.Metrics.FetchDuration.WithLabelValues(snap.Stream.PluginType).Observe(time.Since(fetchStart).Seconds())
		}

		if err == nil {
			return locations, nil
		}
		lastErr = err

		var rateLimited *plugin.RateLimited
		if asRateLimited(err, &rateLimited) {
			if rateLimitRetried {
				return nil, err
			}
			rateLimitRetried = true
			wait := rateLimited.RetryAfter
			if capDuration := 5 * pollInterval; capDuration > 0 && wait > capDuration {
				wait = capDuration
			}
			if !sleepCtx(ctx, wait) {
				return nil, ctx.Err()
			}
			continue
		}

		if !plugin.IsRetryableByWorker(err) {
			return nil, err
		}

		backoff := time.Duration(1<<(attempt-1)) * time.Second
		if !sleepCtx(ctx, backoff) {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func asRateLimited(err error, target **plugin.RateLimited) bool {
	if rl, ok := err.(*plugin.RateLimited); ok {
		*target = rl
		return true
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// admit consults the Device State Tracker, dropping locations whose
// timestamp is not strictly newer than the last admitted one for that uid
// (spec.md §4.7 step 3).
func (w *Worker) admit(locations []plugin.Location) []plugin.Location {
	out := make([]plugin.Location, 0, len(locations))
	deduped := uint64(0)
	for _, loc := range locations {
		if w.tracker.Admit(loc.DeviceUID, loc.Timestamp) {
			out = append(out, loc)
		} else {
			deduped++
		}
	}
	if deduped > 0 {
		w.mu.Lock()
		w.metrics.Deduped += deduped
		w.mu.Unlock()
		if w.opts.Metrics != nil {
			w.opts.Metrics.WorkerDeduped.WithLabelValues(w.streamLabel()).Add(float64(deduped))
		}
	}
	return out
}

// transform builds CoT frames in parallel batches (spec.md §4.7 step 5),
// falling back to serial transformation for a batch if the parallel pass
// times out (spec.md §4.7 "Parallel transform fallback").
func (w *Worker) transform(ctx context.Context, stream *models.Stream, locations []plugin.Location) []*queue.Frame {
	frames := make([]*queue.Frame, 0, len(locations))

	for start := 0; start < len(locations); start += w.opts.TransformBatchSize {
		end := start + w.opts.TransformBatchSize
		if end > len(locations) {
			end = len(locations)
		}
		batch := locations[start:end]

		batchFrames, ok := w.transformBatchParallel(ctx, stream, batch)
		if !ok {
			w.log.Warn("parallel transform timed out, falling back to serial", map[string]interface{}{
				"stream_id": stream.ID, "batch_size": len(batch),
			})
			batchFrames = w.transformBatchSerial(stream, batch)
		}
		frames = append(frames, batchFrames...)
	}
	return frames
}

func (w *Worker) transformBatchParallel(ctx context.Context, stream *models.Stream, batch []plugin.Location) ([]*queue.Frame, bool) {
	results := make([]*queue.Frame, len(batch))
	sem := make(chan struct{}, w.opts.TransformParallelism)
	var wg sync.WaitGroup

	done := make(chan struct{})
	go func() {
		for i := range batch {
			sem <- struct{}{}
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer func() { <-sem }()
				results[i] = w.transformOne(stream, batch[i])
			}(i)
		}
		wg.Wait()
		close(done)
	}()

	timeout := time.Duration(len(batch)) * w.opts.TransformEventTimeout
	if timeout <= 0 {
		timeout = w.opts.TransformEventTimeout
	}
	select {
	case <-done:
		return compact(results), true
	case <-time.After(timeout):
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

func (w *Worker) transformBatchSerial(stream *models.Stream, batch []plugin.Location) []*queue.Frame {
	out := make([]*queue.Frame, 0, len(batch))
	for _, loc := range batch {
		if f := w.transformOne(stream, loc); f != nil {
			out = append(out, f)
		}
	}
	return out
}

func (w *Worker) transformOne(stream *models.Stream, loc plugin.Location) *queue.Frame {
	cotType := stream.DefaultCotType
	if loc.CotType != nil {
		cotType = *loc.CotType
	}

	event := cot.NewEvent(loc.DeviceUID, cotType, loc.Timestamp, loc.Lat, loc.Lon, DefaultStale)
	event.Callsign = loc.Name
	event.HAE = loc.Alt
	event.Course = loc.Course
	event.Speed = loc.Speed
	event.CE = loc.Accuracy

	xmlBytes, err := event.MarshalXML()
	if err != nil {
		w.log.Warn("dropping location: marshal failed", map[string]interface{}{
			"stream_id": stream.ID, "uid": loc.DeviceUID, "error": err.Error(),
		})
		return nil
	}

	return &queue.Frame{
		UID:       loc.DeviceUID,
		Bytes:     xmlBytes,
		EventTime: loc.Timestamp,
	}
}

func compact(frames []*queue.Frame) []*queue.Frame {
	out := make([]*queue.Frame, 0, len(frames))
	for _, f := range frames {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}

// bookkeep implements spec.md §4.7 step 7: increment total_messages_sent,
// store last_poll, clear last_error only if at least one event was
// admitted/enqueued this iteration.
func (w *Worker) bookkeep(streamID uint64, sent int, iterationErr error) {
	w.mu.Lock()
	w.metrics.LastPoll = time.Now()
	if sent > 0 {
		w.metrics.Sent += uint64(sent)
		w.metrics.LastError = ""
	} else if iterationErr != nil {
		w.metrics.LastError = iterationErr.Error()
	}
	w.mu.Unlock()

	if w.opts.Bookkeeper != nil {
		w.opts.Bookkeeper.RecordIteration(streamID, sent, iterationErr)
	}
}
