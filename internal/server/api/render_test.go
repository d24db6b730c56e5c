package api

import (
	"bytes"
	"testing"
	"time"

	"findit/internal/server/database"
	"findit/internal/server/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer_AllPages(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	hash := "$2a$10$hash"
	lat, lon := 51.5, -0.12
	item := &database.Item{
		ID: 4, UserID: 7, Name: "Blue backpack", Category: "bags", Status: database.StatusLost,
		IsPublic: true, RewardAmount: 25, Latitude: &lat, Longitude: &lon,
		VerificationCode: "AB12CD34EF", Photos: []string{"items/4/a.jpg"}, ReportedAt: now,
	}
	doc := &database.Document{ID: 3, UserID: 7, OriginalName: "passport.pdf", MIMEType: "application/pdf", FileSize: 2048, CreatedAt: now}
	link := &database.SharedLink{ID: 9, DocumentID: 3, ShareCode: "ABC123", ShareType: database.ShareTypePassword,
		PasswordHash: &hash, ExpiresAt: &now, MaxViews: 3, ViewCount: 1, IsActive: true, CreatedAt: now}

	pages := map[string]any{
		"login.html":    authForm{Email: "a@example.com", Next: "/shares"},
		"register.html": authForm{},
		"dashboard.html": &service.Dashboard{
			Profile:      &database.Profile{ID: 7, Email: "a@example.com", FullName: "Ada", StorageUsed: 512, StorageLimit: 1024},
			Activity:     []*database.ActivityLog{{Action: "upload", Description: "Uploaded passport.pdf", CreatedAt: now}},
			QuotaPercent: 50,
		},
		"documents.html": &service.DocumentList{Documents: []*database.Document{doc}, StorageUsed: 2048, StorageLimit: 1 << 30},
		"trash.html":     []*database.DeletedDocument{{Document: *doc, OriginalID: 3, DeletedAt: now}},
		"shares.html": sharesPage{
			Links:     []*database.SharedLinkWithDocument{{SharedLink: *link, DocumentName: "passport.pdf"}},
			Documents: []*database.Document{doc},
		},
		"share.html":    sharePage{Code: "ABC123", Access: &service.ShareAccess{Link: link, Document: doc}},
		"items.html":    []*database.Item{item},
		"item_new.html": itemFormPage{Report: service.ItemReport{Status: database.StatusLost}, Latitude: "51.500000"},
		"claims.html": claimsPage{Item: item, Claims: []*database.RewardClaim{
			{ID: 1, ItemID: 4, ClaimerName: "Finder", ClaimerEmail: "f@example.com", Message: "Found it", Status: database.ClaimPending, CreatedAt: now},
		}},
		"search.html": searchPage{Query: "backpack", Items: []*database.Item{item}},
		"lookup.html": lookupPage{Item: item},
		"error.html":  nil,
	}

	for name, data := range pages {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			err := r.Render(&buf, name, pageData{Title: "Test", SignedIn: true, CSRF: "tok", Flash: "hi", Data: data}, nil)
			require.NoError(t, err)
			assert.Contains(t, buf.String(), "<title>Test · findit</title>")
		})
	}
}

func TestRenderer_PasswordPromptAndClaimForm(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, "share.html", pageData{Title: "Password required", Data: sharePage{Code: "ABC123", NeedPassword: true}}, nil))
	assert.Contains(t, buf.String(), `action="/s/ABC123"`)
	assert.Contains(t, buf.String(), `name="password"`)

	buf.Reset()
	item := &database.Item{ID: 4, Name: "Wallet", Status: database.StatusLost, RewardAmount: 10, VerificationCode: "WALLET1234"}
	require.NoError(t, r.Render(&buf, "lookup.html", pageData{Title: "Wallet", Data: lookupPage{Item: item}}, nil))
	assert.Contains(t, buf.String(), `action="/lookup/WALLET1234/claim"`)

	buf.Reset()
	item.RewardAmount = 0
	require.NoError(t, r.Render(&buf, "lookup.html", pageData{Title: "Wallet", Data: lookupPage{Item: item}}, nil))
	assert.NotContains(t, buf.String(), "/claim", "no claim form without a reward")
}

func TestRenderer_UnknownPage(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	assert.Error(t, r.Render(&bytes.Buffer{}, "missing.html", pageData{}, nil))
}

func TestHumanizeBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanizeBytes(512))
	assert.Equal(t, "1.0 KB", humanizeBytes(1024))
	assert.Equal(t, "1.5 MB", humanizeBytes(1536*1024))
	assert.Equal(t, "1.0 GB", humanizeBytes(1<<30))
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "", formatTime(time.Time{}))
	assert.Equal(t, "", formatTime((*time.Time)(nil)))
	assert.NotEmpty(t, formatTime(time.Now()))
}
