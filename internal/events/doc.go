// Package events defines the event record exchanged between extraction and
// publishing, together with the strict timestamp rules every record obeys.
//
// Timestamps are wall-clock strings in the form YYYY-MM-DDTHH:MM:SS. They carry
// no offset; the time zone travels with the request and is applied when the
// event is published.
package events
