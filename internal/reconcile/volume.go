package reconcile

import (
	"mangacatalog/internal/config"
	"mangacatalog/internal/textutil"
	"mangacatalog/internal/volnum"
	"mangacatalog/pkg/models"
)

// BuildVolume computes the volume record to persist.
//
// A new volume takes every fresh field and gets RecordAdded = RecordUpdated
// = in.Now. With RefreshVolumeDetails the fresh fields overwrite the stored
// ones, except that empty fresh values keep what was stored. Otherwise the
// stored record is kept and only its series reference may move, and a
// product page read for a volume without a description fills the gaps.
func BuildVolume(in Input, policy config.Policy) *models.Volume {
	fresh := freshVolume(in)
	if in.Current == nil {
		fresh.RecordAdded = in.Now
		fresh.RecordUpdated = in.Now
		return fresh
	}

	out := in.Current.Clone()
	if policy.RefreshVolumeDetails {
		overlay(out, fresh)
	} else if in.Detail != nil {
		fillFromDetail(out, fresh)
	}
	applySeries(out, in)
	out.RecordAdded = in.Current.RecordAdded
	out.RecordUpdated = in.Now
	return out
}

func freshVolume(in Input) *models.Volume {
	a := in.Attrs
	v := &models.Volume{
		ISBN:        a.ISBN,
		Brand:       a.Brand,
		DisplayName: a.Name,
		Name:        a.Brand,
		Category:    a.Category,
		URL:         a.URL,
	}
	v.Volume, _ = volnum.Parse(a.Name, a.Category)

	if in.Match.Resolved() {
		v.SeriesID = in.Match.Series.ID
		v.SeriesTitle = in.Match.Series.Title
		v.SeriesConfidence = in.Match.Confidence
		if in.Match.Series.Title != "" {
			v.Name = in.Match.Series.Title
		}
	}
	v.NormalizedName = textutil.NormalizeKey(v.Name)

	if a.CoverImage != "" {
		v.CoverImages = []models.CoverImage{{Name: "primary", URL: a.CoverImage}}
	}

	if in.Biblio != nil {
		d := in.Biblio.Details
		v.ReleaseDate = d.ReleaseDate
		v.Publisher = d.Publisher
		v.Format = d.Format
		v.Pages = d.Pages
		v.Authors = d.Authors
		v.ISBN10 = d.ISBN10
	} else if in.Current != nil {
		c := in.Current
		v.ReleaseDate = c.ReleaseDate
		v.Publisher = c.Publisher
		v.Format = c.Format
		v.Pages = c.Pages
		v.Authors = c.Authors
		v.ISBN10 = c.ISBN10
	}

	if in.Detail != nil {
		v.Description = in.Detail.Description
		v.CoverImages = append(v.CoverImages, in.Detail.Images...)
		if in.Detail.ReleaseDate != "" {
			v.ReleaseDate = in.Detail.ReleaseDate
		}
	}
	return v
}

// overlay copies non-empty fresh fields onto out. Series fields are handled
// by applySeries.
func overlay(out, fresh *models.Volume) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&out.Brand, fresh.Brand)
	set(&out.DisplayName, fresh.DisplayName)
	set(&out.Category, fresh.Category)
	set(&out.Volume, fresh.Volume)
	set(&out.URL, fresh.URL)
	set(&out.Description, fresh.Description)
	set(&out.ReleaseDate, fresh.ReleaseDate)
	set(&out.Publisher, fresh.Publisher)
	set(&out.Format, fresh.Format)
	set(&out.Authors, fresh.Authors)
	set(&out.ISBN10, fresh.ISBN10)
	if fresh.Pages != 0 {
		out.Pages = fresh.Pages
	}
	if len(fresh.CoverImages) > 0 && len(fresh.CoverImages) >= len(out.CoverImages) {
		out.CoverImages = fresh.CoverImages
	}
	if out.SeriesID == "" {
		set(&out.Name, fresh.Name)
		out.NormalizedName = textutil.NormalizeKey(out.Name)
	}
}

func fillFromDetail(out, fresh *models.Volume) {
	if out.Description == "" {
		out.Description = fresh.Description
	}
	if len(out.CoverImages) <= 1 && len(fresh.CoverImages) > len(out.CoverImages) {
		out.CoverImages = fresh.CoverImages
	}
	if out.ReleaseDate == "" {
		out.ReleaseDate = fresh.ReleaseDate
	}
}

// applySeries moves the series reference when the match is resolved,
// differs from the stored one, and is at least as confident. A stored
// reference is never cleared.
func applySeries(out *models.Volume, in Input) {
	m := in.Match
	if !m.Resolved() || m.Series.ID == out.SeriesID {
		return
	}
	if out.SeriesID != "" && m.Confidence < out.SeriesConfidence {
		return
	}
	out.SeriesID = m.Series.ID
	out.SeriesTitle = m.Series.Title
	out.SeriesConfidence = m.Confidence
	if m.Series.Title != "" {
		out.Name = m.Series.Title
		out.NormalizedName = textutil.NormalizeKey(out.Name)
	}
}
