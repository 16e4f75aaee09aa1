package schema

import "time"

// Clone creates a deep copy of the context. The reducer mutates its working
// copy in place, and cached contexts are shared across readers, so every
// mutable field must be detached.
func (c *CustomerContext) Clone() *CustomerContext {
	if c == nil {
		return nil
	}

	clone := *c
	clone.Freshness = cloneFreshness(c.Freshness)
	clone.LifeAreas = CloneLifeAreas(c.LifeAreas)
	clone.RecentEntries = cloneEntries(c.RecentEntries)
	clone.Progress = c.Progress.Clone()
	clone.CRM = c.CRM.Clone()
	clone.Scheduling = c.Scheduling.Clone()
	clone.Supplements = cloneSupplements(c.Supplements)
	return &clone
}

// Clone deep-copies the progress section.
func (p Progress) Clone() Progress {
	clone := p
	if len(p.CompletedChallenges) > 0 {
		clone.CompletedChallenges = append([]string(nil), p.CompletedChallenges...)
	}
	if len(p.ActionHistory) > 0 {
		clone.ActionHistory = append([]ActionRecord(nil), p.ActionHistory...)
	}
	return clone
}

// Clone deep-copies the optional CRM section, tolerating nil.
func (c *CRMContext) Clone() *CRMContext {
	if c == nil {
		return nil
	}
	clone := *c
	if len(c.Tags) > 0 {
		clone.Tags = append([]string(nil), c.Tags...)
	}
	if c.LastInteraction != nil {
		interaction := *c.LastInteraction
		clone.LastInteraction = &interaction
	}
	return &clone
}

// Clone deep-copies the optional scheduling section, tolerating nil.
func (s *SchedulingContext) Clone() *SchedulingContext {
	if s == nil {
		return nil
	}
	clone := *s
	if s.NextAppointment != nil {
		next := *s.NextAppointment
		clone.NextAppointment = &next
	}
	if s.LastCompleted != nil {
		last := *s.LastCompleted
		clone.LastCompleted = &last
	}
	if len(s.Upcoming) > 0 {
		clone.Upcoming = append([]Appointment(nil), s.Upcoming...)
	}
	return &clone
}

// CloneLifeAreas deep-copies life areas including their score histories.
func CloneLifeAreas(areas []LifeArea) []LifeArea {
	if len(areas) == 0 {
		return nil
	}
	out := make([]LifeArea, len(areas))
	for i, area := range areas {
		clone := area
		if len(area.ScoreHistory) > 0 {
			clone.ScoreHistory = append([]ScorePoint(nil), area.ScoreHistory...)
		}
		out[i] = clone
	}
	return out
}

func cloneEntries(entries []Entry) []Entry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

func cloneSupplements(supplements []Supplement) []Supplement {
	if len(supplements) == 0 {
		return nil
	}
	out := make([]Supplement, len(supplements))
	copy(out, supplements)
	return out
}

func cloneFreshness(src map[string]time.Time) map[string]time.Time {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]time.Time, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
