package sources

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLowValue(t *testing.T) {
	long := "Anyone know a good algo trading automation tool? " + strings.Repeat("I have been testing a few. ", 4)
	cases := []struct {
		name    string
		content string
		want    bool
	}{
		{"regular question", long, false},
		{"too short", "nice tool", true},
		{"whitespace padded short", "   short text   ", true},
		{"job posting", "We're hiring a quant developer to build trading systems, remote position available", true},
		{"bracket tag", "[Hiring] Senior backend engineer for a market making desk in London, good pay", true},
		{"promo", "Use promo code TRADE50 to get half off our signals service for the first month", true},
		{"spam link", "Best signals group around, join us at t.me/moonsignals and start earning today", true},
		{"win rate spam", "Our bot has a 100% win rate and guaranteed profits every single week, DM me for access", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsLowValue(tc.content))
		})
	}
}
