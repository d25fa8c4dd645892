package availability

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SlotID builds the deterministic slot identifier.
func SlotID(practitionerID, locationID uuid.UUID, start time.Time) string {
	return fmt.Sprintf("%s:%s:%d", practitionerID, locationID, start.Unix())
}

// ParseSlotID recovers practitioner, location and start time from a slot id.
func ParseSlotID(id string) (practitionerID, locationID uuid.UUID, start time.Time, err error) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 {
		err = fmt.Errorf("malformed slot id")
		return
	}
	if practitionerID, err = uuid.Parse(parts[0]); err != nil {
		err = fmt.Errorf("malformed slot id: %w", err)
		return
	}
	if locationID, err = uuid.Parse(parts[1]); err != nil {
		err = fmt.Errorf("malformed slot id: %w", err)
		return
	}
	epoch, perr := strconv.ParseInt(parts[2], 10, 64)
	if perr != nil {
		err = fmt.Errorf("malformed slot id: %w", perr)
		return
	}
	start = time.Unix(epoch, 0).UTC()
	return
}

// GenerateSlots enumerates free openings of the given duration inside
// [rangeStart, rangeEnd). It walks each UTC calendar day in the range, matches
// active windows by day of week (0=Monday), clips each window to the range,
// steps forward in duration-sized increments and drops candidates overlapping
// any busy interval. Results are deduplicated by start time and sorted
// ascending. Pure function; safe to call concurrently.
func GenerateSlots(practitionerID, locationID uuid.UUID, windows []*ScheduleWindow, busy []Interval, rangeStart, rangeEnd time.Time, duration time.Duration) []Slot {
	if duration <= 0 || !rangeEnd.After(rangeStart) {
		return nil
	}

	rangeStart = rangeStart.UTC()
	rangeEnd = rangeEnd.UTC()

	seen := make(map[int64]bool)
	var slots []Slot

	day := time.Date(rangeStart.Year(), rangeStart.Month(), rangeStart.Day(), 0, 0, 0, 0, time.UTC)
	for day.Before(rangeEnd) {
		// time.Weekday has Sunday=0; schedule windows use Monday=0.
		dow := (int(day.Weekday()) + 6) % 7

		for _, w := range windows {
			if !w.Active || w.DayOfWeek != dow {
				continue
			}

			wStart := day.Add(time.Duration(w.StartMinute) * time.Minute)
			wEnd := day.Add(time.Duration(w.EndMinute) * time.Minute)
			if !wEnd.After(rangeStart) || !wStart.Before(rangeEnd) {
				continue
			}
			if wStart.Before(rangeStart) {
				wStart = rangeStart
			}
			if wEnd.After(rangeEnd) {
				wEnd = rangeEnd
			}

			for cur := wStart; !cur.Add(duration).After(wEnd); cur = cur.Add(duration) {
				end := cur.Add(duration)
				if overlapsAny(busy, cur, end) {
					continue
				}
				if seen[cur.Unix()] {
					continue
				}
				seen[cur.Unix()] = true
				slots = append(slots, Slot{
					ID:             SlotID(practitionerID, locationID, cur),
					Start:          cur,
					End:            end,
					PractitionerID: practitionerID,
					LocationID:     locationID,
					State:          "open",
				})
			}
		}

		day = day.AddDate(0, 0, 1)
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	return slots
}

func overlapsAny(busy []Interval, start, end time.Time) bool {
	for _, iv := range busy {
		if iv.Overlaps(start, end) {
			return true
		}
	}
	return false
}
