package models

import (
	"fmt"
	"sort"
)

// Item is a single indivisible wagered asset. Value is in minor units.
type Item struct {
	ID       string            `json:"id"`
	Value    int64             `json:"value"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func TotalValue(items []Item) int64 {
	var total int64
	for _, it := range items {
		total += it.Value
	}
	return total
}

// MaxStakeValue bounds the total value of one side of a wager so pot and
// range arithmetic stay well inside int64.
const MaxStakeValue int64 = 1 << 53

// ValidateItems rejects empty sets, blank or duplicate ids, non-positive
// values and sets worth more than MaxStakeValue.
func ValidateItems(items []Item) error {
	if len(items) == 0 {
		return NewError(CodeValidation, "at least one item is required")
	}

	var total int64
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it.ID == "" {
			return NewError(CodeValidation, "item id is required")
		}
		if it.Value <= 0 {
			return Errorf(CodeValidation, "item %s must have a positive value", it.ID)
		}
		if _, dup := seen[it.ID]; dup {
			return Errorf(CodeValidation, "item %s listed more than once", it.ID)
		}
		if it.Value > MaxStakeValue-total {
			return Errorf(CodeValidation, "items are worth more than the %d limit", MaxStakeValue)
		}
		total += it.Value
		seen[it.ID] = struct{}{}
	}
	return nil
}

// Without returns items whose ids are not in removed, preserving order.
func Without(items, removed []Item) []Item {
	drop := make(map[string]struct{}, len(removed))
	for _, it := range removed {
		drop[it.ID] = struct{}{}
	}

	out := make([]Item, 0, len(items))
	for _, it := range items {
		if _, ok := drop[it.ID]; !ok {
			out = append(out, it)
		}
	}
	return out
}

func SortItemsByID(items []Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}

func ItemIDs(items []Item) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

func (it Item) String() string {
	return fmt.Sprintf("%s(%d)", it.ID, it.Value)
}
