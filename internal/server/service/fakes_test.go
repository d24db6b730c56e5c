package service

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"findit/internal/server/config"
	"findit/internal/server/database"
	"findit/internal/server/storage"
)

// fakeRepo is an in-memory Repo. InTx snapshots the state and restores it
// when fn fails.
type fakeRepo struct {
	mu sync.Mutex
	fakeState

	failCreateDocument error
	failIncrementView  error
}

type fakeState struct {
	nextID   int64
	users    map[int64]*database.User
	docs     map[int64]*database.Document
	trash    map[int64]*database.DeletedDocument
	shares   map[int64]*database.SharedLink
	items    map[int64]*database.Item
	claims   map[int64]*database.RewardClaim
	activity []*database.ActivityLog
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{fakeState: fakeState{
		users:  map[int64]*database.User{},
		docs:   map[int64]*database.Document{},
		trash:  map[int64]*database.DeletedDocument{},
		shares: map[int64]*database.SharedLink{},
		items:  map[int64]*database.Item{},
		claims: map[int64]*database.RewardClaim{},
	}}
}

func cloneMap[T any](m map[int64]*T) map[int64]*T {
	out := make(map[int64]*T, len(m))
	for k, v := range m {
		c := *v
		out[k] = &c
	}
	return out
}

func (s fakeState) clone() fakeState {
	return fakeState{
		nextID:   s.nextID,
		users:    cloneMap(s.users),
		docs:     cloneMap(s.docs),
		trash:    cloneMap(s.trash),
		shares:   cloneMap(s.shares),
		items:    cloneMap(s.items),
		claims:   cloneMap(s.claims),
		activity: append([]*database.ActivityLog(nil), s.activity...),
	}
}

func (r *fakeRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *fakeRepo) InTx(ctx context.Context, fn func(tx Repo) error) error {
	r.mu.Lock()
	snapshot := r.fakeState.clone()
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.fakeState = snapshot
		r.mu.Unlock()
		return err
	}
	return nil
}

// --- users ---

func (r *fakeRepo) addUser(email string, limit int64) *database.User {
	u := &database.User{Email: email, FullName: "Test User", Role: database.RoleUser, StorageLimit: limit}
	if err := r.CreateUser(context.Background(), u); err != nil {
		panic(err)
	}
	return u
}

func (r *fakeRepo) CreateUser(ctx context.Context, u *database.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return database.ErrEmailTaken
		}
	}
	u.ID = r.id()
	u.CreatedAt = time.Now()
	c := *u
	r.users[u.ID] = &c
	return nil
}

func (r *fakeRepo) GetUserByEmail(ctx context.Context, email string) (*database.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, database.ErrNotFound
}

func (r *fakeRepo) GetUserByID(ctx context.Context, id int64) (*database.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r *fakeRepo) GetProfile(ctx context.Context, id int64) (*database.Profile, error) {
	u, err := r.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &database.Profile{
		ID:           u.ID,
		Email:        u.Email,
		FullName:     u.FullName,
		Role:         u.Role,
		StorageLimit: u.StorageLimit,
		StorageUsed:  u.StorageUsed,
	}, nil
}

func (r *fakeRepo) UpdateFullName(ctx context.Context, id int64, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return database.ErrNotFound
	}
	u.FullName = name
	return nil
}

func (r *fakeRepo) ReserveStorage(ctx context.Context, userID, size int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok || u.StorageUsed+size > u.StorageLimit {
		return database.ErrQuotaExceeded
	}
	u.StorageUsed += size
	return nil
}

func (r *fakeRepo) ReleaseStorage(ctx context.Context, userID, size int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return database.ErrNotFound
	}
	u.StorageUsed = max(u.StorageUsed-size, 0)
	return nil
}

// --- documents ---

func (r *fakeRepo) CreateDocument(ctx context.Context, d *database.Document) error {
	if r.failCreateDocument != nil {
		return r.failCreateDocument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d.ID = r.id()
	d.CreatedAt = time.Now()
	c := *d
	r.docs[d.ID] = &c
	return nil
}

func (r *fakeRepo) GetDocument(ctx context.Context, id int64) (*database.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	c := *d
	return &c, nil
}

func (r *fakeRepo) ListDocuments(ctx context.Context, userID int64) ([]*database.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*database.Document
	for _, d := range r.docs {
		if d.UserID == userID {
			c := *d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *fakeRepo) MoveToTrash(ctx context.Context, documentID int64) (*database.DeletedDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[documentID]
	if !ok {
		return nil, database.ErrNotFound
	}
	t := &database.DeletedDocument{Document: *d, OriginalID: d.ID, DeletedAt: time.Now()}
	t.ID = r.id()
	r.trash[t.ID] = t
	delete(r.docs, documentID)
	for id, l := range r.shares {
		if l.DocumentID == documentID {
			delete(r.shares, id)
		}
	}
	c := *t
	return &c, nil
}

func (r *fakeRepo) GetTrashed(ctx context.Context, id int64) (*database.DeletedDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trash[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (r *fakeRepo) ListTrash(ctx context.Context, userID int64) ([]*database.DeletedDocument, error) {
	return r.filterTrash(func(t *database.DeletedDocument) bool { return t.UserID == userID }), nil
}

func (r *fakeRepo) ListTrashOlderThan(ctx context.Context, cutoff time.Time) ([]*database.DeletedDocument, error) {
	return r.filterTrash(func(t *database.DeletedDocument) bool { return t.DeletedAt.Before(cutoff) }), nil
}

func (r *fakeRepo) filterTrash(keep func(*database.DeletedDocument) bool) []*database.DeletedDocument {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*database.DeletedDocument
	for _, t := range r.trash {
		if keep(t) {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *fakeRepo) RestoreFromTrash(ctx context.Context, trashID int64) (*database.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trash[trashID]
	if !ok {
		return nil, database.ErrNotFound
	}
	d := t.Document
	d.ID = t.OriginalID
	r.docs[d.ID] = &d
	delete(r.trash, trashID)
	c := d
	return &c, nil
}

func (r *fakeRepo) PurgeTrashed(ctx context.Context, trashID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trash[trashID]; !ok {
		return database.ErrNotFound
	}
	delete(r.trash, trashID)
	return nil
}

// --- shares ---

func (r *fakeRepo) CreateShare(ctx context.Context, l *database.SharedLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.ID = r.id()
	l.IsActive = true
	l.CreatedAt = time.Now()
	c := *l
	r.shares[l.ID] = &c
	return nil
}

func (r *fakeRepo) GetActiveShareByCode(ctx context.Context, code string) (*database.SharedLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.shares {
		if l.ShareCode == code && l.IsActive {
			c := *l
			return &c, nil
		}
	}
	return nil, database.ErrNotFound
}

func (r *fakeRepo) ListSharesByUser(ctx context.Context, userID int64) ([]*database.SharedLinkWithDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*database.SharedLinkWithDocument
	for _, l := range r.shares {
		if l.CreatedBy != userID {
			continue
		}
		name := ""
		if d, ok := r.docs[l.DocumentID]; ok {
			name = d.OriginalName
		}
		out = append(out, &database.SharedLinkWithDocument{SharedLink: *l, DocumentName: name})
	}
	return out, nil
}

func (r *fakeRepo) DeactivateShare(ctx context.Context, id, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.shares[id]
	if !ok || l.CreatedBy != userID {
		return database.ErrNotFound
	}
	l.IsActive = false
	return nil
}

func (r *fakeRepo) IncrementViewCount(ctx context.Context, id int64) error {
	if r.failIncrementView != nil {
		return r.failIncrementView
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.shares[id]
	if !ok || !l.IsActive || (l.MaxViews > 0 && l.ViewCount >= l.MaxViews) {
		return database.ErrViewLimitReached
	}
	l.ViewCount++
	now := time.Now()
	l.LastAccessed = &now
	return nil
}

func (r *fakeRepo) IncrementDownloadCount(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.shares[id]
	if !ok {
		return database.ErrNotFound
	}
	l.DownloadCount++
	return nil
}

func (r *fakeRepo) share(id int64) database.SharedLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.shares[id]
}

// --- items ---

func (r *fakeRepo) CreateItem(ctx context.Context, it *database.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it.ID = r.id()
	if it.ReportedAt.IsZero() {
		it.ReportedAt = time.Now()
	}
	c := *it
	r.items[it.ID] = &c
	return nil
}

func (r *fakeRepo) GetItem(ctx context.Context, id int64) (*database.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	c := *it
	return &c, nil
}

func (r *fakeRepo) GetItemByVerificationCode(ctx context.Context, code string) (*database.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range r.items {
		if it.VerificationCode == code {
			c := *it
			return &c, nil
		}
	}
	return nil, database.ErrNotFound
}

func (r *fakeRepo) ListItemsByUser(ctx context.Context, userID int64) ([]*database.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*database.Item
	for _, it := range r.items {
		if it.UserID == userID {
			c := *it
			out = append(out, &c)
		}
	}
	return out, nil
}

// SearchPublicItems mirrors the SQL ordering; it deliberately skips the
// visibility filter so the service-side filter is exercised.
func (r *fakeRepo) SearchPublicItems(ctx context.Context, f database.ItemSearch) ([]*database.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*database.Item
	q := strings.ToLower(f.Query)
	for _, it := range r.items {
		if q != "" && !strings.Contains(strings.ToLower(it.Name+" "+it.Brand+" "+it.Description), q) {
			continue
		}
		if f.Category != "" && it.Category != f.Category {
			continue
		}
		c := *it
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.RewardAmount > 0) != (b.RewardAmount > 0) {
			return a.RewardAmount > 0
		}
		if a.RewardAmount != b.RewardAmount {
			return a.RewardAmount > b.RewardAmount
		}
		return a.ReportedAt.After(b.ReportedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *fakeRepo) UpdateItemState(ctx context.Context, id int64, status string, isPublic bool, reward float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return database.ErrNotFound
	}
	it.Status, it.IsPublic, it.RewardAmount = status, isPublic, reward
	return nil
}

func (r *fakeRepo) SetItemPhotos(ctx context.Context, id int64, photos []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return database.ErrNotFound
	}
	it.Photos = append([]string(nil), photos...)
	return nil
}

// --- claims ---

func (r *fakeRepo) ClaimExists(ctx context.Context, itemID int64, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.claims {
		if c.ItemID == itemID && c.ClaimerEmail == email {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) CreateClaim(ctx context.Context, c *database.RewardClaim) error {
	exists, _ := r.ClaimExists(ctx, c.ItemID, c.ClaimerEmail)
	if exists {
		return database.ErrDuplicateClaim
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = r.id()
	c.Status = database.ClaimPending
	c.CreatedAt = time.Now()
	cp := *c
	r.claims[c.ID] = &cp
	return nil
}

func (r *fakeRepo) GetClaim(ctx context.Context, id int64) (*database.RewardClaim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.claims[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeRepo) ListClaimsForItem(ctx context.Context, itemID int64) ([]*database.RewardClaim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*database.RewardClaim
	for _, c := range r.claims {
		if c.ItemID == itemID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpdateClaimStatus(ctx context.Context, id int64, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.claims[id]
	if !ok {
		return database.ErrNotFound
	}
	c.Status = status
	return nil
}

// --- activity ---

func (r *fakeRepo) LogActivity(ctx context.Context, a *database.ActivityLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.ID = r.id()
	a.CreatedAt = time.Now()
	c := *a
	r.activity = append(r.activity, &c)
	return nil
}

func (r *fakeRepo) ListRecentActivity(ctx context.Context, userID int64, limit int) ([]*database.ActivityLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*database.ActivityLog
	for i := len(r.activity) - 1; i >= 0 && len(out) < limit; i-- {
		if r.activity[i].UserID == userID {
			out = append(out, r.activity[i])
		}
	}
	return out, nil
}

func (r *fakeRepo) actions(userID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, a := range r.activity {
		if a.UserID == userID {
			out = append(out, a.Action)
		}
	}
	return out
}

// fakeStore is an in-memory storage.Store.
type fakeStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	saves    int
	failSave error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (s *fakeStore) Init(ctx context.Context) error { return nil }

func (s *fakeStore) Save(ctx context.Context, key string, data io.Reader) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.failSave != nil {
		return 0, s.failSave
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return 0, err
	}
	s.objects[key] = b
	return int64(len(b)), nil
}

func (s *fakeStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *fakeStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func testConfig() *config.Config {
	return &config.Config{
		BaseURL:             "http://findit.test",
		MaxFileSize:         1 << 20,
		DefaultStorageLimit: 10 << 20,
		AllowedMIMETypes:    []string{"application/pdf", "text/plain", "image/png"},
		ShareViewCounting:   config.ViewCountingSession,
		SessionSecret:       "test-secret",
	}
}
