// Package messaging publishes workflow structural events to NATS
// JetStream so external consumers (monitors, auditors, UIs) can follow a
// workflow without polling it.
package messaging

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	inats "github.com/wehubfusion/Daedalus/internal/nats"
	"github.com/wehubfusion/Daedalus/pkg/workflow"
)

// EventRecord is the wire form of a structural workflow event.
type EventRecord struct {
	Kind      string    `json:"kind"`
	Workflow  string    `json:"workflow"`
	ElementID string    `json:"element_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	Source    string    `json:"source,omitempty"`
	Sink      string    `json:"sink,omitempty"`
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
}

// Bridge forwards the structural events of attached workflows to
// JetStream. Publishing happens on a single background worker so the
// mutation path never blocks on the network and event order is preserved.
type Bridge struct {
	js     nats.JetStreamContext
	cfg    *inats.ConnectionConfig
	logger *zap.Logger
	caser  cases.Caser

	queue chan publication
	wg    sync.WaitGroup

	mu        sync.Mutex
	detachers []func()
	closed    bool
}

type publication struct {
	subject string
	data    []byte
}

// NewBridge ensures the event stream exists and starts the publish
// worker.
func NewBridge(conn *nats.Conn, cfg *inats.ConnectionConfig, logger *zap.Logger) (*Bridge, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	js, err := inats.EnsureEventStream(conn, cfg)
	if err != nil {
		return nil, err
	}
	b := &Bridge{
		js:     js,
		cfg:    cfg,
		logger: logger,
		caser:  cases.Lower(language.Und),
		queue:  make(chan publication, 256),
	}
	b.wg.Add(1)
	go b.worker()
	return b, nil
}

// Attach subscribes to wf's structural events. The returned func detaches
// again.
func (b *Bridge) Attach(wf *workflow.Scheme) func() {
	slug := b.subjectToken(wf.Title())
	if slug == "" {
		slug = "untitled"
	}
	cancel := wf.Subscribe(func(ev workflow.Event) {
		b.publish(slug, ev)
	})
	b.mu.Lock()
	b.detachers = append(b.detachers, cancel)
	b.mu.Unlock()
	return cancel
}

// Close detaches all workflows, drains queued publications and stops the
// worker.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	detachers := b.detachers
	b.detachers = nil
	b.mu.Unlock()
	for _, detach := range detachers {
		detach()
	}
	close(b.queue)
	b.wg.Wait()
}

func (b *Bridge) publish(slug string, ev workflow.Event) {
	record, ok := b.record(slug, ev)
	if !ok {
		return
	}
	data, err := json.Marshal(record)
	if err != nil {
		b.logger.Error("marshal event record", zap.Error(err))
		return
	}
	subject := b.cfg.SubjectPrefix + "." + slug + "." + record.Kind
	select {
	case b.queue <- publication{subject: subject, data: data}:
	default:
		b.logger.Warn("event queue full, dropping event",
			zap.String("subject", subject))
	}
}

// record maps a structural event to its wire form. Runtime state flag
// changes are deliberately not forwarded; they fire far too often to be
// useful on a broker.
func (b *Bridge) record(slug string, ev workflow.Event) (EventRecord, bool) {
	now := time.Now().UTC()
	switch ev := ev.(type) {
	case *workflow.NodeEvent:
		var kind string
		switch ev.Kind() {
		case workflow.NodeAdded:
			kind = "node.added"
		case workflow.NodeRemoved:
			kind = "node.removed"
		default:
			return EventRecord{}, false
		}
		return EventRecord{
			Kind:      kind,
			Workflow:  slug,
			ElementID: ev.Node.ID().String(),
			Title:     ev.Node.Title(),
			Index:     ev.Index,
			Timestamp: now,
		}, true
	case *workflow.LinkEvent:
		var kind string
		switch ev.Kind() {
		case workflow.LinkAdded:
			kind = "link.added"
		case workflow.LinkRemoved:
			kind = "link.removed"
		case workflow.LinkEnabledChanged:
			kind = "link.enabled"
		default:
			return EventRecord{}, false
		}
		return EventRecord{
			Kind:      kind,
			Workflow:  slug,
			ElementID: ev.Link.ID().String(),
			Source:    ev.Link.SourceNode().Title(),
			Sink:      ev.Link.SinkNode().Title(),
			Index:     ev.Index,
			Timestamp: now,
		}, true
	case *workflow.AnnotationEvent:
		var kind string
		switch ev.Kind() {
		case workflow.AnnotationAdded:
			kind = "annotation.added"
		case workflow.AnnotationRemoved:
			kind = "annotation.removed"
		default:
			return EventRecord{}, false
		}
		return EventRecord{
			Kind:      kind,
			Workflow:  slug,
			ElementID: ev.Annotation.ID().String(),
			Index:     ev.Index,
			Timestamp: now,
		}, true
	case *workflow.EnvChangedEvent:
		return EventRecord{
			Kind:      "env.changed",
			Workflow:  slug,
			Title:     ev.Key,
			Index:     -1,
			Timestamp: now,
		}, true
	default:
		return EventRecord{}, false
	}
}

func (b *Bridge) worker() {
	defer b.wg.Done()
	for pub := range b.queue {
		var err error
		for attempt := 0; attempt <= b.cfg.PublishMaxRetries; attempt++ {
			if attempt > 0 {
				time.Sleep(time.Second)
			}
			if _, err = b.js.Publish(pub.subject, pub.data); err == nil {
				break
			}
		}
		if err != nil {
			b.logger.Error("publish event failed",
				zap.String("subject", pub.subject),
				zap.Error(err))
		}
	}
}

// subjectToken folds s into a NATS subject token: lower case, runs of
// non-alphanumeric characters collapsed to single dashes.
func (b *Bridge) subjectToken(s string) string {
	s = b.caser.String(s)
	var sb strings.Builder
	dash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			dash = false
		default:
			if !dash && sb.Len() > 0 {
				sb.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(sb.String(), "-")
}
