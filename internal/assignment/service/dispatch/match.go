package dispatch

import (
	"slices"
	"strings"

	"casework/internal/assignment/models"
	id "casework/pkg/domain"
)

// Candidates returns the staff able to take work needing required: available,
// skills a superset of required, a free individual slot, not exclude. Lowest
// load comes first; ties break on user id so runs are deterministic.
func Candidates(staff []*models.StaffProfile, required []string, exclude id.UserID) []*models.StaffProfile {
	var out []*models.StaffProfile
	for _, p := range staff {
		if p.UserID == exclude {
			continue
		}
		if p.IsAvailable() && p.HasFreeSlot() && p.HasSkills(required) {
			out = append(out, p)
		}
	}
	slices.SortStableFunc(out, func(a, b *models.StaffProfile) int {
		if a.CurrentCount != b.CurrentCount {
			return a.CurrentCount - b.CurrentCount
		}
		return strings.Compare(a.UserID.String(), b.UserID.String())
	})
	return out
}

func anyHasSkills(staff []*models.StaffProfile, required []string) bool {
	for _, p := range staff {
		if p.HasSkills(required) {
			return true
		}
	}
	return false
}
