// Copyright (C) 2025 Cloud System Implementation. All Rights Reserved.

package interactive

import "expvar"

// clientMetrics record client activity counters.
type clientMetrics struct {
	frameRecv     expvar.Int
	frameSent     expvar.Int
	frameDropped  expvar.Int // inbound frames that did not parse
	callOut       expvar.Int // number of outbound calls initiated
	callOutErr    expvar.Int // number of outbound calls reporting an error
	callPending   expvar.Int // outbound calls awaiting replies
	replyOrphaned expvar.Int // replies with no matching pending call
	eventIn       expvar.Int // method frames delivered to subscribers
	eventDropped  expvar.Int // method frames with no subscriber

	emap *expvar.Map
}

var rootMetrics = newClientMetrics()

func newClientMetrics() *clientMetrics {
	cm := &clientMetrics{emap: new(expvar.Map)}
	cm.emap.Set("frames_received", &cm.frameRecv)
	cm.emap.Set("frames_sent", &cm.frameSent)
	cm.emap.Set("frames_dropped", &cm.frameDropped)
	cm.emap.Set("calls_out", &cm.callOut)
	cm.emap.Set("calls_out_failed", &cm.callOutErr)
	cm.emap.Set("calls_pending", &cm.callPending)
	cm.emap.Set("replies_orphaned", &cm.replyOrphaned)
	cm.emap.Set("events_delivered", &cm.eventIn)
	cm.emap.Set("events_dropped", &cm.eventDropped)
	return cm
}
