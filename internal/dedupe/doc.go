// Package dedupe provides a bounded seen-set. The notification fan-out
// keeps one per admin session so each enquiry or message key raises at
// most one alert, even when the transport redelivers an event.
package dedupe
