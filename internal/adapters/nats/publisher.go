package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/civicmap/internal/core/domain"
)

const (
	SubjectIssueReported  = "civic.issue.reported"
	subjectViewpointBase  = "civic.viewpoint."
	subjectViewpointsWild = "civic.viewpoint.>"
)

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and enables JetStream.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := connect(url)
	if err != nil {
		return nil, err
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	// Ensure streams exist
	streams := []nats.StreamConfig{
		{
			Name:      "CIVIC_ISSUES",
			Subjects:  []string{"civic.issue.>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		},
		{
			Name:              "CIVIC_VIEWPOINTS",
			Subjects:          []string{subjectViewpointsWild},
			Retention:         nats.LimitsPolicy,
			MaxAge:            1 * time.Hour,
			MaxMsgsPerSubject: 1,
			Storage:           nats.MemoryStorage,
		},
	}

	for _, cfg := range streams {
		if _, err := js.AddStream(&cfg); err != nil {
			// Stream may already exist; try update
			if _, err := js.UpdateStream(&cfg); err != nil {
				return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
			}
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

func (p *Publisher) PublishIssueReported(ctx context.Context, event *domain.IssueReported) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectIssueReported, data, nats.Context(ctx))
	return err
}

func (p *Publisher) PublishViewpointChanged(ctx context.Context, event *domain.ViewpointChanged) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(ViewpointSubject(event.ClientID), data, nats.Context(ctx))
	return err
}

// Connected reports whether the connection is up.
func (p *Publisher) Connected() bool {
	return p.conn.IsConnected()
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// ViewpointSubject is the per-client subject. Characters NATS reserves in
// subject tokens are replaced with underscores.
func ViewpointSubject(clientID string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, clientID)
	if token == "" {
		token = "_"
	}
	return subjectViewpointBase + token
}

func connect(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("civicmap"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return conn, nil
}
