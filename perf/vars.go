package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	DispatchLatency      = metric.NewHistogram("1m1s")
	GossipBatchSize      = metric.NewHistogram("10s1s")
	MergedBatchSize      = metric.NewHistogram("10s1s")
	SentGossipPerSecond  = metric.NewCounter("10s1s")
	RecvGossipPerSecond  = metric.NewCounter("10s1s")
	SentPacketPerSecond  = metric.NewCounter("10s1s")
	RecvPacketPerSecond  = metric.NewCounter("10s1s")
	SentBytesPerSecond   = metric.NewCounter("10s1s")
	RecvBytesPerSecond   = metric.NewCounter("10s1s")
	DroppedPacketsPerMin = metric.NewCounter("1m1s")
)

// Handler serves the rolling metrics published below
func Handler() http.Handler {
	return metric.Handler(metric.Exposed)
}

func init() {
	expvar.Publish("golem:GossipBatchSize", GossipBatchSize)
	expvar.Publish("golem:MergedBatchSize", MergedBatchSize)

	expvar.Publish("golem:SentGossip/s", SentGossipPerSecond)
	expvar.Publish("golem:RecvGossip/s", RecvGossipPerSecond)
	expvar.Publish("golem:SentPacket/s", SentPacketPerSecond)
	expvar.Publish("golem:RecvPacket/s", RecvPacketPerSecond)
	expvar.Publish("golem:SentBytes/s", SentBytesPerSecond)
	expvar.Publish("golem:RecvBytes/s", RecvBytesPerSecond)
	expvar.Publish("golem:DroppedPackets/m", DroppedPacketsPerMin)
	expvar.Publish("golem:DispatchLatency (µs)", DispatchLatency)
}
