package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	DispatchLatency    = metric.NewHistogram("1m1s")
	DatagramsDelivered = metric.NewCounter("10s1s")
	DatagramsRelayed   = metric.NewCounter("10s1s")
	DatagramsDropped   = metric.NewCounter("10s1s")
	GraphUpdatesSent   = metric.NewCounter("10s1s")
	GraphUpdatesRecv   = metric.NewCounter("10s1s")
	Retransmissions    = metric.NewCounter("1m1s")
	NeighborCloses     = metric.NewCounter("1m1s")
	RecvBytesPerSecond = metric.NewCounter("10s1s")
	SentBytesPerSecond = metric.NewCounter("10s1s")
)

func init() {
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	expvar.Publish("meshlink:Delivered/s", DatagramsDelivered)
	expvar.Publish("meshlink:Relayed/s", DatagramsRelayed)
	expvar.Publish("meshlink:Dropped/s", DatagramsDropped)
	expvar.Publish("meshlink:GraphUpdatesSent/s", GraphUpdatesSent)
	expvar.Publish("meshlink:GraphUpdatesRecv/s", GraphUpdatesRecv)
	expvar.Publish("meshlink:Retransmissions", Retransmissions)
	expvar.Publish("meshlink:NeighborCloses", NeighborCloses)
	expvar.Publish("meshlink:SentBytes/s", SentBytesPerSecond)
	expvar.Publish("meshlink:RecvBytes/s", RecvBytesPerSecond)
	expvar.Publish("meshlink:DispatchLatency (µs)", DispatchLatency)
}
