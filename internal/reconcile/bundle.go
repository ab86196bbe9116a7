package reconcile

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"mangacatalog/internal/config"
	"mangacatalog/internal/logging"
	"mangacatalog/internal/store"
	"mangacatalog/internal/volnum"
	"mangacatalog/pkg/models"
)

// containsRange finds "volumes 7-9", "Volumes 7 through 9", "vols. 1 to 3".
var containsRange = regexp.MustCompile(`(?i)\bvol(?:ume)?s?\.?\s+(\d+(?:\.\d+)?)\s*(?:-|–|to|through|thru)\s*(\d+(?:\.\d+)?)`)

// IsBundle reports whether an item is sold as several volumes.
func IsBundle(id, name string) bool {
	return strings.Contains(id, "BUNDLE") ||
		strings.Contains(name, "Box Set") ||
		strings.Contains(name, " Bundle")
}

// BundleTypeOf classifies a bundle item by its display name.
func BundleTypeOf(name string) models.BundleType {
	if strings.Contains(name, "Box Set") {
		return models.BundleTypeBoxSet
	}
	return models.BundleTypeBundle
}

// BundleRange extracts the first and last volume of a box set from its
// description text, falling back to the range in the display name.
func BundleRange(text, name, category string) (start, end string) {
	if m := containsRange.FindStringSubmatch(text); m != nil {
		return m[1], m[2]
	}
	v, _ := volnum.Parse(name, category)
	return volnum.Range(v)
}

// BundleResolver builds and stores bundle records.
type BundleResolver struct {
	store  store.Store
	policy config.Policy
	logger *zap.Logger
}

func NewBundleResolver(st store.Store, policy config.Policy, logger *zap.Logger) *BundleResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BundleResolver{store: st, policy: policy, logger: logger}
}

// Resolve writes the bundle record for a bundle item. Non-bundle items get
// (nil, nil). A stored bundle is returned untouched unless volume details
// are being refreshed.
func (b *BundleResolver) Resolve(ctx context.Context, in Input) (*models.Bundle, error) {
	a := in.Attrs
	if !IsBundle(a.ISBN, a.Name) {
		return nil, nil
	}
	if in.CurrentBundle != nil && !b.policy.RefreshVolumeDetails {
		return in.CurrentBundle, nil
	}

	out := BuildBundle(in)
	var err error
	if in.CurrentBundle == nil {
		err = b.store.CreateBundle(ctx, out)
	} else {
		err = b.store.UpdateBundle(ctx, out)
	}
	if err != nil {
		return nil, err
	}
	b.logger.Debug("bundle written",
		zap.String(logging.FieldISBN, out.ISBN),
		zap.String("type", string(out.Type)),
		zap.Int("contained", len(out.Contained)))
	return out, nil
}

// BuildBundle computes the bundle record for a bundle item.
func BuildBundle(in Input) *models.Bundle {
	a := in.Attrs
	out := &models.Bundle{
		ISBN:          a.ISBN,
		Shop:          models.ShopKey{ISBN: a.ISBN, Store: StoreName, Condition: ConditionNew},
		CoverImage:    a.CoverImage,
		Type:          BundleTypeOf(a.Name),
		RecordAdded:   in.Now,
		RecordUpdated: in.Now,
	}
	switch {
	case in.Match.Resolved():
		out.SeriesID = in.Match.Series.ID
	case in.Current != nil:
		out.SeriesID = in.Current.SeriesID
	}

	cur := in.CurrentBundle
	if cur != nil {
		out.RecordAdded = cur.RecordAdded
		if out.SeriesID == "" {
			out.SeriesID = cur.SeriesID
		}
	}

	text := ""
	if in.Detail != nil {
		text = in.Detail.FullText
	}

	switch out.Type {
	case models.BundleTypeBoxSet:
		out.StartVolume, out.EndVolume = BundleRange(text, a.Name, a.Category)
		if out.StartVolume == "" && cur != nil {
			out.StartVolume, out.EndVolume = cur.StartVolume, cur.EndVolume
		}
	default:
		if in.Detail != nil && len(in.Detail.BundleLinks) > 0 {
			for _, l := range in.Detail.BundleLinks {
				out.Contained = append(out.Contained, models.BundleVolume{
					ISBN:       l.ISBN,
					Name:       l.Name,
					URL:        l.URL,
					CoverImage: l.CoverImage,
				})
			}
		} else if cur != nil {
			out.Contained = append([]models.BundleVolume(nil), cur.Contained...)
		}
	}
	return out
}
