package share

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/mssola/useragent"
)

type CountryLookup interface {
	Country(addr string) string
}

// ViewRecorder stores one row per successful resolution for the owner's
// share listing.
type ViewRecorder struct {
	store Store
	geo   CountryLookup
}

func NewViewRecorder(store Store, geo CountryLookup) *ViewRecorder {
	return &ViewRecorder{store: store, geo: geo}
}

func (v *ViewRecorder) Record(ctx context.Context, grant Grant, ip, userAgent string) error {
	view := describeViewer(userAgent)
	view.ShareID = grant.ID
	view.ViewerHash = viewerHash(ip, userAgent)
	if v.geo != nil {
		view.Country = v.geo.Country(ip)
	}
	return v.store.RecordView(ctx, view)
}

func describeViewer(userAgent string) View {
	if userAgent == "" {
		return View{Device: "unknown"}
	}
	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()

	device := "desktop"
	switch {
	case ua.Bot():
		device = "bot"
	case ua.Mobile():
		device = "mobile"
	}

	return View{
		Browser: browser,
		OS:      ua.OSInfo().Name,
		Device:  device,
	}
}

func viewerHash(ip, userAgent string) string {
	h := sha256.Sum256([]byte(ip + "|" + userAgent))
	return fmt.Sprintf("%x", h[:8])
}
