// ABOUTME: Tests for heartbeat response classification and suppression.

package heartbeat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyBareMarkerSuppressed(t *testing.T) {
	for _, in := range []string{
		"HEARTBEAT_OK",
		"heartbeat_ok",
		"Heartbeat_Ok",
		"  HEARTBEAT_OK  ",
		"\nHEARTBEAT_OK\n",
	} {
		t.Run(in, func(t *testing.T) {
			c := Classify(in, 300)
			assert.True(t, c.OK)
			assert.Empty(t, c.Content)
			assert.False(t, c.ShouldDeliver)
		})
	}
}

func TestClassifyLeadingMarkerWithShortTail(t *testing.T) {
	c := Classify("HEARTBEAT_OK all systems nominal", 300)
	assert.True(t, c.OK)
	assert.Equal(t, "all systems nominal", c.Content)
	assert.False(t, c.ShouldDeliver)
}

func TestClassifyTrailingMarker(t *testing.T) {
	c := Classify("Checked queues and disk space.\nHEARTBEAT_OK", 300)
	assert.True(t, c.OK)
	assert.Equal(t, "Checked queues and disk space.", c.Content)
	assert.False(t, c.ShouldDeliver)
}

func TestClassifyMarkerWithLongContentDelivered(t *testing.T) {
	long := strings.Repeat("a", 301)
	c := Classify("HEARTBEAT_OK "+long, 300)
	assert.True(t, c.OK)
	assert.Equal(t, long, c.Content)
	assert.True(t, c.ShouldDeliver)
}

func TestClassifyThresholdIsStrict(t *testing.T) {
	// Exactly ackMaxChars is still an ack; one more rune tips it over.
	exact := strings.Repeat("x", 300)
	c := Classify("HEARTBEAT_OK "+exact, 300)
	assert.False(t, c.ShouldDeliver)

	over := strings.Repeat("x", 301)
	c = Classify("HEARTBEAT_OK "+over, 300)
	assert.True(t, c.ShouldDeliver)
}

func TestClassifyThresholdCountsRunesNotBytes(t *testing.T) {
	// 300 multibyte runes are 900 bytes but still within the threshold.
	content := strings.Repeat("é", 300)
	c := Classify("HEARTBEAT_OK "+content, 300)
	assert.True(t, c.OK)
	assert.False(t, c.ShouldDeliver)
}

func TestClassifyInteriorMarkerDoesNotCount(t *testing.T) {
	in := "Everything was HEARTBEAT_OK until the disk filled up."
	c := Classify(in, 300)
	assert.False(t, c.OK)
	assert.Equal(t, in, c.Content)
	assert.True(t, c.ShouldDeliver)
}

func TestClassifyNoMarkerAlwaysDelivered(t *testing.T) {
	c := Classify("disk usage at 94%", 300)
	assert.False(t, c.OK)
	assert.Equal(t, "disk usage at 94%", c.Content)
	assert.True(t, c.ShouldDeliver)

	// Even an empty response without the marker is "delivered"; the caller
	// decides what to do with empty content.
	c = Classify("", 300)
	assert.False(t, c.OK)
	assert.True(t, c.ShouldDeliver)
}

func TestClassifyMarkerPunctuationBoundaries(t *testing.T) {
	// A leading marker glued to punctuation still matches the start anchor;
	// the punctuation survives into the content.
	c := Classify("HEARTBEAT_OK. Nothing to report.", 300)
	assert.True(t, c.OK)
	assert.Equal(t, ". Nothing to report.", c.Content)

	// A trailing marker followed by punctuation never reaches the end of the
	// string, so it does not count.
	c = Classify("Nothing to report. HEARTBEAT_OK.", 300)
	assert.False(t, c.OK)
	assert.Equal(t, "Nothing to report. HEARTBEAT_OK.", c.Content)
}
