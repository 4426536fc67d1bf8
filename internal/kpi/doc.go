// Package kpi turns the request log into pipeline metrics.
//
// Rows carry no leg tag, so Classify infers one from sender, receiver and
// method:
//
//	A  internal -> hub, read   (pull raw data from the hub)
//	B  internal -> carrier site, write
//	C  internal -> hub, write  (push results back)
//
// The end-to-end figure pairs the last A row with the last C row. The two
// are not matched by shipment, so concurrent runs can be paired with each
// other.
package kpi
