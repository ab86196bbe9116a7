package reconcile

import (
	"sort"

	"mangacatalog/internal/volnum"
	"mangacatalog/pkg/models"
)

// MergeSeries adds member to a series.
//
// With no current record the series is created from meta with member as
// its only volume, or nil without meta. Otherwise the member is inserted, or replaced in place
// when its ISBN is already listed, and the list is kept ordered by category
// then volume number. Metadata is overwritten from meta only when refresh
// is set.
func MergeSeries(current, meta *models.Series, member models.SeriesVolume, refresh bool) *models.Series {
	if current == nil {
		if meta == nil {
			return nil
		}
		out := meta.Clone()
		out.Volumes = []models.SeriesVolume{member}
		return out
	}

	out := current.Clone()
	if refresh && meta != nil {
		volumes := out.Volumes
		out = meta.Clone()
		out.Volumes = volumes
	}
	out.Volumes = upsertMember(out.Volumes, member)
	return out
}

func upsertMember(volumes []models.SeriesVolume, member models.SeriesVolume) []models.SeriesVolume {
	for i, v := range volumes {
		if v.ISBN == member.ISBN {
			if v == member {
				return volumes
			}
			volumes[i] = member
			sortMembers(volumes)
			return volumes
		}
	}
	volumes = append(volumes, member)
	sortMembers(volumes)
	return volumes
}

func sortMembers(volumes []models.SeriesVolume) {
	sort.SliceStable(volumes, func(i, j int) bool {
		a, b := volumes[i], volumes[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return volnum.Less(a.Volume, b.Volume)
	})
}
