package result

import (
	"git.home.luguber.info/inful/buildrelay/internal/broker"
	"git.home.luguber.info/inful/buildrelay/internal/config"
	"git.home.luguber.info/inful/buildrelay/internal/objectstore"
)

// Transport is what a broker must offer to carry results.
type Transport interface {
	broker.Publisher
	broker.Mailbox
}

// NewSink returns the sink selected by worker.sink.
func NewSink(cfg *config.Config, store objectstore.Store, tr Transport) Sink {
	if cfg.Worker.Sink == config.SinkQueue {
		return NewQueueSink(tr, cfg.Broker.CompletionTopic)
	}
	var pub broker.Publisher
	if tr != nil {
		pub = tr
	}
	return NewStoreSink(store, cfg.Store.ResultSuffix, pub, cfg.Broker.CompletionTopic)
}

// NewSource returns the retrieval side matching worker.sink.
func NewSource(cfg *config.Config, store objectstore.Store, tr Transport) Source {
	if cfg.Worker.Sink == config.SinkQueue {
		return NewQueueSource(tr, cfg.Broker.CompletionTopic)
	}
	return NewStoreSource(store, cfg.Store.ResultSuffix)
}
