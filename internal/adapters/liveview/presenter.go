package liveview

import "log/slog"

// Presenter implements ports.Presenter over the channel. Write failures are
// logged; the read loop notices a dead socket on its own.
type Presenter struct {
	ch     *Channel
	logger *slog.Logger
}

func NewPresenter(ch *Channel, logger *slog.Logger) *Presenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Presenter{ch: ch, logger: logger}
}

func (p *Presenter) Alert(message string) {
	if err := p.ch.Send(Outbound{Type: TypeAlert, Message: message}); err != nil {
		p.logger.Debug("alert not delivered", "error", err)
	}
}

func (p *Presenter) Publish(topic string, payload any) {
	if err := p.ch.Send(Outbound{Type: TypeState, Topic: topic, Payload: payload}); err != nil {
		p.logger.Debug("state not delivered", "topic", topic, "error", err)
	}
}
