package models

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	if v == nil {
		return nil
	}
	out := *v
	out.CoverImages = append([]CoverImage(nil), v.CoverImages...)
	return &out
}

// Clone returns a deep copy of the series.
func (s *Series) Clone() *Series {
	if s == nil {
		return nil
	}
	out := *s
	out.AssociatedTitles = append([]string(nil), s.AssociatedTitles...)
	out.Genres = append([]string(nil), s.Genres...)
	out.Themes = append([]Theme(nil), s.Themes...)
	out.Authors = append([]Credit(nil), s.Authors...)
	out.Publishers = append([]Credit(nil), s.Publishers...)
	out.Recommendations = append([]string(nil), s.Recommendations...)
	out.Volumes = append([]SeriesVolume(nil), s.Volumes...)
	return &out
}

// Clone returns a deep copy of the bundle.
func (b *Bundle) Clone() *Bundle {
	if b == nil {
		return nil
	}
	out := *b
	out.Contained = append([]BundleVolume(nil), b.Contained...)
	return &out
}
