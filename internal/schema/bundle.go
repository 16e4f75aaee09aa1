package schema

// Bundle is the required slice of customer data produced by the primary
// store. It is all-or-nothing: a bundle either carries every required section
// or the fetch failed.
type Bundle struct {
	Profile       Profile    `json:"profile"`
	LifeAreas     []LifeArea `json:"lifeAreas"`
	RecentEntries []Entry    `json:"recentEntries"`
	Progress      Progress   `json:"progress"`
}

// Clone detaches the bundle from the store's internal state.
func (b *Bundle) Clone() *Bundle {
	if b == nil {
		return nil
	}
	clone := *b
	clone.LifeAreas = CloneLifeAreas(b.LifeAreas)
	clone.RecentEntries = cloneEntries(b.RecentEntries)
	clone.Progress = b.Progress.Clone()
	return &clone
}
