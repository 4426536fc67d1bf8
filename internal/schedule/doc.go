// Package schedule converts human schedule input (frequency plus a
// time-of-day window or delivery time) into the persisted trigger fields
// and back.
//
// Tracing jobs (Import, Export, Other) store a window: the minute field holds
// "startMin-endMin" and the hour field "startHour-endHour". Email jobs store
// a single delivery instant. Decode picks the variant from the category, so
// no caller has to guess what a minute field means.
package schedule
