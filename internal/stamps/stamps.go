// Package stamps holds the loyalty stamp rules. Progress is stored only as the
// body of the stamp text module ("<current> / <total>"), so it is recovered by
// parsing that string back.
package stamps

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/orvull/sparkcards/internal/models"
)

// Module identity and fixed rows shown on every card.
const (
	ModuleID      = "stamps"
	ModuleHeader  = "Stamps to next reward"
	RewardsID     = "rewards"
	RewardsHeader = "Rewards collected"
	RewardID      = "reward"
	RewardHeader  = "Reward"
)

var progressPattern = regexp.MustCompile(`^\s*(\d+)\s*/\s*(\d+)\s*$`)

// Format renders progress as "<current> / <total>".
func Format(current, total int) string {
	return fmt.Sprintf("%d / %d", current, total)
}

// Parse extracts the current count from a stamp module body.
func Parse(body string) (int, bool) {
	m := progressPattern.FindStringSubmatch(body)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Next is the count after one award. It saturates at total.
func Next(previous, total int) int {
	if previous < 0 {
		previous = 0
	}
	return min(previous+1, total)
}

// Clamp keeps n within 0..total.
func Clamp(n, total int) int {
	return max(0, min(n, total))
}

// ImageURI is the hero image for a card showing n stamps.
func ImageURI(base string, n int) string {
	return fmt.Sprintf("%s/stamps_%d.png", strings.TrimRight(base, "/"), n)
}

// Modules builds the text rows of a freshly issued card.
func Modules(current, total int, reward string) []models.TextModule {
	mods := []models.TextModule{
		{ID: ModuleID, Header: ModuleHeader, Body: Format(current, total)},
		{ID: RewardsID, Header: RewardsHeader, Body: "0"},
	}
	if reward != "" {
		mods = append(mods, models.TextModule{ID: RewardID, Header: RewardHeader, Body: reward})
	}
	return mods
}

func isStampModule(m models.TextModule) bool {
	return m.ID == ModuleID || (m.ID == "" && m.Header == ModuleHeader)
}

// Progress reads the current count from the card's modules.
// A missing or unreadable stamp module counts as zero.
func Progress(mods []models.TextModule) int {
	for _, m := range mods {
		if !isStampModule(m) {
			continue
		}
		if n, ok := Parse(m.Body); ok {
			return n
		}
		return 0
	}
	return 0
}

// WithProgress returns a copy of mods with the stamp module set to
// current/total. Other rows are kept as they are; the stamp module is
// prepended when the card has none.
func WithProgress(mods []models.TextModule, current, total int) []models.TextModule {
	stamp := models.TextModule{ID: ModuleID, Header: ModuleHeader, Body: Format(current, total)}
	out := make([]models.TextModule, 0, len(mods)+1)
	replaced := false
	for _, m := range mods {
		if !replaced && isStampModule(m) {
			out = append(out, stamp)
			replaced = true
			continue
		}
		out = append(out, m)
	}
	if !replaced {
		out = append([]models.TextModule{stamp}, out...)
	}
	return out
}
