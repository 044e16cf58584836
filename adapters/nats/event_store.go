package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/aggrepo-go/core/es"
)

const (
	defaultSubjectPrefix = "aggrepo.es"
	defaultStreamName    = "AGGREPO_ES"
	fetchBatchSize       = 100
)

// RetentionPolicy defines how messages are retained in the stream.
type RetentionPolicy int

const (
	// RetentionLimits keeps messages until MaxAge, MaxBytes or MaxMsgs is reached.
	RetentionLimits RetentionPolicy = iota
	// RetentionInterest keeps messages while consumers have interest.
	RetentionInterest
)

func (r RetentionPolicy) toJetStream() jetstream.RetentionPolicy {
	if r == RetentionInterest {
		return jetstream.InterestPolicy
	}
	return jetstream.LimitsPolicy
}

type EventStoreConfig struct {
	Connect        Connector    // Connect creates the NATS connection. If nil, ConnectDefault() is used.
	Log            *slog.Logger // Log for diagnostics (optional)
	SubjectPrefix  string       // SubjectPrefix of event subjects: <prefix>.<aggType>.<aggID>
	StreamSubjects []string     // StreamSubjects feed the stream and must cover SubjectPrefix
	StreamName     string
	// RenameType maps aggregate types to subject tokens.
	RenameType func(string) string

	Retention RetentionPolicy
	// Zero values mean unlimited.
	MaxAge   time.Duration
	MaxBytes int64
	MaxMsgs  int64
}

// EventStore keeps one subject per aggregate stream in a JetStream stream.
// Appends are guarded twice: the stream's last version is compared with the
// expected version, and the first message is published with the expected last
// subject sequence so that a concurrent writer in between is rejected by the
// server.
type EventStore struct {
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
	renameType    func(string) string
}

func NewEventStore(cfg EventStoreConfig) (*EventStore, error) {
	if len(cfg.StreamSubjects) == 0 {
		return nil, errors.New("stream subjects are required")
	}

	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}
	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}
	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	// 0 means unlimited in NATS for age, -1 for bytes and messages
	maxBytes, maxMsgs := cfg.MaxBytes, cfg.MaxMsgs
	if maxBytes == 0 {
		maxBytes = -1
	}
	if maxMsgs == 0 {
		maxMsgs = -1
	}

	log = log.With(
		slog.String("store", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subject_prefix", subjectPrefix),
	)

	stream, streamInfo, err := ensureStream(js, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  cfg.StreamSubjects,
		Retention: cfg.Retention.toJetStream(),
		Storage:   jetstream.FileStorage,
		MaxAge:    cfg.MaxAge,
		MaxBytes:  maxBytes,
		MaxMsgs:   maxMsgs,
		FirstSeq:  1,
	})
	if err != nil {
		closeNc()
		return nil, err
	}
	log.Debug("stream ensured", slog.Uint64("messages", streamInfo.State.Msgs))

	return &EventStore{
		closeNc:       closeNc,
		js:            js,
		stream:        stream,
		log:           log,
		subjectPrefix: subjectPrefix,
		renameType:    cfg.RenameType,
	}, nil
}

func (e *EventStore) Close() error {
	e.js.CleanupPublisher()
	e.closeNc()
	e.log.Debug("closed event store")
	return nil
}

func (e *EventStore) Load(
	ctx context.Context,
	aggType string,
	aggID string,
	opts ...es.StoreLoadOption,
) (loaded []es.Envelope, err error) {
	if err := validateStream(aggType, aggID); err != nil {
		return nil, err
	}

	var (
		loadOpts = es.NewStoreLoadOptions(opts...)
		startAt  = time.Now()
		subj     = e.subject(aggType, aggID)
	)

	defer func() {
		if err == nil {
			e.log.Debug(
				"loaded events",
				slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID)),
				loadOpts.StartVersion.SlogAttrWithKey("start_version"),
				slog.Int("count", len(loaded)),
				slog.Duration("duration", time.Since(startAt)),
			)
		}
	}()

	last, err := e.lastEnvelope(ctx, subj)
	if err != nil {
		return nil, err
	}
	if last == nil || last.Version < loadOpts.StartVersion {
		return nil, nil
	}

	cc, err := e.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		FilterSubjects: []string{subj},
	})
	if err != nil {
		return nil, err
	}
	return e.consume(ctx, cc, last.Seq, loadOpts.StartVersion)
}

// consume fetches until endSeq, skipping versions below from.
func (e *EventStore) consume(ctx context.Context, cc jetstream.Consumer, endSeq uint64, from es.Version) ([]es.Envelope, error) {
	var loaded []es.Envelope
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		mb, err := cc.FetchNoWait(fetchBatchSize)
		if err != nil {
			return nil, err
		}

		empty := true
		for msg := range mb.Messages() {
			empty = false
			env, err := decodeMsg(msg)
			if err != nil {
				return nil, fmt.Errorf("decode message: %w", err)
			}
			if env.Version >= from {
				loaded = append(loaded, *env)
			}
			if env.Seq >= endSeq {
				return loaded, nil
			}
		}
		if err := mb.Error(); err != nil {
			return nil, err
		}
		if empty {
			return loaded, nil
		}
	}
}

func (e *EventStore) Append(
	ctx context.Context,
	aggType string,
	aggID string,
	expectedVersion es.Version,
	events []es.Envelope,
	opts ...es.StoreAppendOption,
) (*es.StoreAppendResult, error) {
	if len(events) == 0 {
		return nil, es.ErrStoreNoEvents
	}
	if err := validateStream(aggType, aggID); err != nil {
		return nil, err
	}

	subj := e.subject(aggType, aggID)
	last, err := e.lastEnvelope(ctx, subj)
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}

	var (
		current es.Version
		lastSeq uint64
	)
	if last != nil {
		current, lastSeq = last.Version, last.Seq
	}
	if es.NewStoreAppendOptions(opts...).NewStream {
		if last != nil {
			return nil, conflict(aggType, aggID, expectedVersion, current)
		}
	} else if current != expectedVersion {
		return nil, conflict(aggType, aggID, expectedVersion, current)
	}

	for _, env := range events {
		if lastSeq, err = e.publish(ctx, subj, aggType, env, lastSeq); err != nil {
			var apiErr *jetstream.APIError
			if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
				return nil, conflict(aggType, aggID, expectedVersion, current)
			}
			return nil, err
		}
	}

	return &es.StoreAppendResult{LastSeq: lastSeq}, nil
}

// publish appends env, expecting the subject to end at lastSeq.
func (e *EventStore) publish(ctx context.Context, subj, aggType string, env es.Envelope, lastSeq uint64) (uint64, error) {
	if err := env.Validate(); err != nil {
		return 0, fmt.Errorf("validate event: %w", err)
	}

	msg := natsgo.NewMsg(subj)
	msg.Header.Set("x-event-type", env.Type)
	msg.Header.Set("x-aggregate-type", aggType)
	msg.Header.Set("x-aggregate-id", env.AggregateID)

	var err error
	if msg.Data, err = json.Marshal(env); err != nil {
		return 0, err
	}

	ack, err := e.js.PublishMsg(ctx, msg,
		jetstream.WithMsgID(env.ID),
		jetstream.WithExpectLastSequencePerSubject(lastSeq),
	)
	if err != nil {
		return 0, fmt.Errorf("append %s to %s: %w", env.Type, subj, err)
	}
	return ack.Sequence, nil
}

// Delete purges the aggregate's subject.
func (e *EventStore) Delete(ctx context.Context, aggType, aggID string) error {
	if err := validateStream(aggType, aggID); err != nil {
		return err
	}
	subj := e.subject(aggType, aggID)
	if err := e.stream.Purge(ctx, jetstream.WithPurgeSubject(subj)); err != nil {
		return fmt.Errorf("purge %s: %w", subj, err)
	}
	e.log.Debug("purged", slog.String("subject", subj))
	return nil
}

func (e *EventStore) lastEnvelope(ctx context.Context, subj string) (*es.Envelope, error) {
	lm, err := e.stream.GetLastMsgForSubject(ctx, subj)
	if errors.Is(err, jetstream.ErrMsgNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	env := &es.Envelope{}
	if err := json.Unmarshal(lm.Data, env); err != nil {
		return nil, fmt.Errorf("decode last message of %q: %w", subj, err)
	}
	env.Seq = lm.Sequence
	return env, nil
}

func (e *EventStore) subject(aggType, aggID string) string {
	if e.renameType != nil {
		aggType = e.renameType(aggType)
	}
	return e.subjectPrefix + "." + aggType + "." + aggID
}

var _ es.EventStore = (*EventStore)(nil)

// === helpers ===

func ensureStream(js jetstream.JetStream, cfg jetstream.StreamConfig) (jetstream.Stream, *jetstream.StreamInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	defer cancel()

	s, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	si, err := s.Info(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, si, nil
}

func decodeMsg(msg jetstream.Msg) (*es.Envelope, error) {
	md, err := msg.Metadata()
	if err != nil {
		return nil, err
	}
	env := &es.Envelope{}
	if err := json.Unmarshal(msg.Data(), env); err != nil {
		return nil, err
	}
	env.Seq = md.Sequence.Stream
	return env, nil
}

func validateStream(aggType, aggID string) error {
	switch {
	case aggType == "":
		return errors.New("aggregate type is empty")
	case aggID == "":
		return errors.New("aggregate id is empty")
	case strings.ContainsAny(aggType+aggID, ".*> "):
		return fmt.Errorf("aggregate %s/%s is not a valid subject token", aggType, aggID)
	}
	return nil
}

func conflict(aggType, aggID string, expected, actual es.Version) error {
	return fmt.Errorf(
		"%w: expected version %d, got %d (agg_type=%s agg_id=%s)",
		es.ErrConcurrencyConflict, expected, actual, aggType, aggID,
	)
}
