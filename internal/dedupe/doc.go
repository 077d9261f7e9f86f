// Package dedupe tracks recently processed Telegram update ids in a
// time-based cache so webhook retries are never handled twice.
package dedupe
