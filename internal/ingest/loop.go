package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/recorderd/internal/bus"
	"github.com/e7canasta/recorderd/internal/clock"
	"github.com/e7canasta/recorderd/internal/config"
	"github.com/e7canasta/recorderd/internal/initdata"
	"github.com/e7canasta/recorderd/internal/logger"
	"github.com/e7canasta/recorderd/internal/params"
	"github.com/e7canasta/recorderd/internal/rotation"
)

// subscriptionState pairs a configured subscription with its own
// quicklog subsampler, per spec.md §3's "per-subscription quicklog
// state".
type subscriptionState struct {
	entry   config.SubscriptionEntry
	sampler *quicklogSampler
}

// Loop is the Ingest Loop of spec.md §4.2: the single timing authority
// for segment rotation, and the only component allowed to call
// Logger.NextSegment.
type Loop struct {
	busImpl     bus.Bus
	log         *logger.Logger
	coordinator *rotation.Coordinator
	segClock    *clock.SegmentClock
	store       *params.Store

	frameTopic           string
	softwareVersion      string
	systemPropertiesPath string
	withQuicklog         bool
	noDiskLogging        bool

	virtualSegNum int

	subs map[string]*subscriptionState
}

// New builds a Loop from its configured subscriptions. withQuicklog
// controls whether every new segment gets a quicklog mirror file at all
// (individual per-topic marking still follows each entry's QuicklogFreq).
// noDiskLogging mirrors loggerd.cc's "--only-stream" is_logging=false: no
// segment directory is ever created or written, but the Coordinator still
// advances on the same wall-clock cadence so the encoders keep rotating.
func New(busImpl bus.Bus, log *logger.Logger, coordinator *rotation.Coordinator, segClock *clock.SegmentClock, store *params.Store, entries []config.SubscriptionEntry, frameTopic, softwareVersion, systemPropertiesPath string, withQuicklog, noDiskLogging bool) *Loop {
	subs := make(map[string]*subscriptionState, len(entries))
	for _, e := range entries {
		if !e.ShouldLog {
			continue
		}
		subs[e.Name] = &subscriptionState{entry: e, sampler: newQuicklogSampler(e.QuicklogFreq)}
	}

	return &Loop{
		busImpl:              busImpl,
		log:                  log,
		coordinator:          coordinator,
		segClock:             segClock,
		store:                store,
		frameTopic:           frameTopic,
		softwareVersion:      softwareVersion,
		systemPropertiesPath: systemPropertiesPath,
		withQuicklog:         withQuicklog,
		noDiskLogging:        noDiskLogging,
		virtualSegNum:        -1,
		subs:                 subs,
	}
}

type taggedMessage struct {
	topic string
	msg   bus.Message
}

// Run subscribes to every configured topic, opens the first segment, and
// processes messages until ctx is cancelled. It is the sole caller of
// Logger.NextSegment (spec.md §4.2: "the ingest loop is the only
// component allowed to call Logger.next_segment").
func (l *Loop) Run(ctx context.Context) error {
	if err := l.rotate(); err != nil {
		return fmt.Errorf("ingest: initial segment: %w", err)
	}

	merged := make(chan taggedMessage, 256)
	var subs []bus.Subscriber
	for name := range l.subs {
		sub, err := l.busImpl.Subscribe(name)
		if err != nil {
			return fmt.Errorf("ingest: subscribe %q: %w", name, err)
		}
		subs = append(subs, sub)
		go forward(ctx, name, sub, merged)
	}
	defer func() {
		for _, s := range subs {
			s.Close()
		}
	}()

	// A 100ms tick stands in for the original's poll(2) timeout: even
	// with no subscriber traffic, rotation must still advance on its
	// wall-clock cadence (spec.md §8, "rotation with no traffic").
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-merged:
			if err := l.handleMessage(t.topic, t.msg); err != nil {
				slog.Warn("ingest: dropping message after processing error", "topic", t.topic, "error", err)
			}
		case <-ticker.C:
		}

		if l.segClock.ShouldRotate(time.Now()) {
			if err := l.rotate(); err != nil {
				slog.Error("ingest: rotation failed", "error", err)
			}
		}
	}
}

func forward(ctx context.Context, topic string, sub bus.Subscriber, out chan<- taggedMessage) {
	for {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			select {
			case out <- taggedMessage{topic: topic, msg: msg}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// handleMessage implements spec.md §4.2 step 3: frame-id extraction,
// timestamp patching, logging, and quicklog tagging — in that order,
// since the timestamp patch must land in the payload before it is
// logged or mirrored.
func (l *Loop) handleMessage(topic string, msg bus.Message) error {
	st, ok := l.subs[topic]
	if !ok {
		return nil
	}

	if topic == l.frameTopic {
		if frameID, ok := ExtractFrameID(msg.Payload); ok {
			l.coordinator.ObserveFrame(frameID)
		}
	}

	if st.entry.IsTimestampPatchable() {
		PatchTimestamp(msg.Payload, uint64(time.Now().UnixNano()))
	}

	if l.noDiskLogging {
		return nil
	}

	marked := st.sampler.mark()
	return l.log.Log(msg.Payload, marked)
}

// rotate advances the Coordinator to a new segment. With disk logging
// enabled it first builds a fresh init-data record and asks the Logger for
// the next segment directory (spec.md §4.2 step 4); with --only-stream, no
// segment is ever created and the segment number is simply an in-memory
// counter the encoders still rotate against.
func (l *Loop) rotate() error {
	if l.noDiskLogging {
		l.virtualSegNum++
		l.coordinator.AdvanceSegment("", l.virtualSegNum)
		return nil
	}

	rec := initdata.Build(uint64(time.Now().UnixNano()), l.softwareVersion, l.systemPropertiesPath, l.store)
	payload, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("build init record: %w", err)
	}

	segNum, path, err := l.log.NextSegment(payload, l.withQuicklog)
	if err != nil {
		return fmt.Errorf("next segment: %w", err)
	}

	l.coordinator.AdvanceSegment(path, segNum)
	return nil
}
