package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ Registry        = (*ConsumerRegistry)(nil)
	_ EventDispatcher = (*Dispatcher)(nil)
	_ IngestService   = (*Service)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)