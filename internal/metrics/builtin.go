package metrics

// Built-in metric names.
const (
	HTTPReqsName              = "http_reqs"
	HTTPReqDurationName       = "http_req_duration"
	HTTPReqFailedName         = "http_req_failed"
	HTTPReqConnectingName     = "http_req_connecting"
	HTTPReqTLSHandshakingName = "http_req_tls_handshaking"
	HTTPReqWaitingName        = "http_req_waiting"
	HTTPReqReceivingName      = "http_req_receiving"
	DataReceivedName          = "data_received"
	DataSentName              = "data_sent"
	IterationsName            = "iterations"
	IterationDurationName     = "iteration_duration"
	IterationsFailedName      = "iterations_failed"
	ChecksName                = "checks"
	VUsName                   = "vus"
	VUsMaxName                = "vus_max"
)

// BuiltinMetrics holds handles to the metrics the engine records itself.
type BuiltinMetrics struct {
	HTTPReqs              *Metric
	HTTPReqDuration       *Metric
	HTTPReqFailed         *Metric
	HTTPReqConnecting     *Metric
	HTTPReqTLSHandshaking *Metric
	HTTPReqWaiting        *Metric
	HTTPReqReceiving      *Metric
	DataReceived          *Metric
	DataSent              *Metric

	Iterations        *Metric
	IterationDuration *Metric
	IterationsFailed  *Metric
	Checks            *Metric

	VUs    *Metric
	VUsMax *Metric
}

// RegisterBuiltins registers the built-in metrics on r.
func RegisterBuiltins(r *Registry) (*BuiltinMetrics, error) {
	b := &BuiltinMetrics{}
	defs := []struct {
		dst      **Metric
		name     string
		kind     Kind
		contains ValueType
	}{
		{&b.HTTPReqs, HTTPReqsName, Counter, Default},
		{&b.HTTPReqDuration, HTTPReqDurationName, Trend, Time},
		{&b.HTTPReqFailed, HTTPReqFailedName, Rate, Default},
		{&b.HTTPReqConnecting, HTTPReqConnectingName, Trend, Time},
		{&b.HTTPReqTLSHandshaking, HTTPReqTLSHandshakingName, Trend, Time},
		{&b.HTTPReqWaiting, HTTPReqWaitingName, Trend, Time},
		{&b.HTTPReqReceiving, HTTPReqReceivingName, Trend, Time},
		{&b.DataReceived, DataReceivedName, Counter, Data},
		{&b.DataSent, DataSentName, Counter, Data},
		{&b.Iterations, IterationsName, Counter, Default},
		{&b.IterationDuration, IterationDurationName, Trend, Time},
		{&b.IterationsFailed, IterationsFailedName, Rate, Default},
		{&b.Checks, ChecksName, Rate, Default},
		{&b.VUs, VUsName, Gauge, Default},
		{&b.VUsMax, VUsMaxName, Gauge, Default},
	}

	for _, d := range defs {
		m, err := r.NewMetric(d.name, d.kind, d.contains)
		if err != nil {
			return nil, err
		}
		*d.dst = m
	}
	return b, nil
}
