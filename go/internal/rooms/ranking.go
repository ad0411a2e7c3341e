package rooms

import "sort"

// Rank orders members by progress, highest first. Members with equal
// progress keep the order they joined the room in.
func Rank(members []Member) []Member {
	ranked := make([]Member, len(members))
	copy(ranked, members)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Progress > ranked[j].Progress
	})
	return ranked
}
