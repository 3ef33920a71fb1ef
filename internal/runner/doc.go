// Package runner polls the marketplace runner endpoint for order and chat
// changes.
//
// Every tick posts the last known tag of each stream. The server answers
// with the current tags and, for chat bookmarks, rendered HTML that is
// diffed against the previous snapshot. Callbacks fire after the tick's
// state is committed and never on the first successful tick.
//
// Consecutive tick failures stretch the polling interval to a ceiling and
// raise one alert; the next successful tick restores the baseline.
package runner
